package httpapi

import (
	"net/http"

	"harborview.app/internal/access"
	"harborview.app/internal/audit"
	"harborview.app/internal/obs"
)

// protect runs the route policy for page requests. Denials are silent
// redirects; there is no error page. While a session's role confirmation
// is still in flight the request gets a neutral loading shell.
func (a *API) protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok, loading := a.principalFromRequest(r)
		if loading {
			loadingPage(w)
			return
		}

		ctx := r.Context()
		if ok {
			ctx = access.ContextWithPrincipal(ctx, principal)
		}

		dec := access.Decide(r.URL.Path, principal.Role, ok)
		if !dec.Allowed {
			obs.ObserveDecision("deny", principal.Role.String())
			audit.LogEvent(ctx, "access.denied", map[string]any{
				"path":        r.URL.Path,
				"redirect_to": dec.RedirectTo,
			})
			http.Redirect(w, r.WithContext(ctx), dec.RedirectTo, http.StatusSeeOther)
			return
		}

		obs.ObserveDecision("allow", principal.Role.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles narrows an already protected route to the given roles.
// A principal with a different role is sent to its own home page.
func (a *API) requireRoles(roles ...access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := access.PrincipalFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, access.PathSignIn, http.StatusSeeOther)
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			obs.ObserveDecision("deny", principal.Role.String())
			audit.LogEvent(r.Context(), "access.denied", map[string]any{
				"path":        r.URL.Path,
				"redirect_to": principal.Role.HomePath(),
			})
			http.Redirect(w, r, principal.Role.HomePath(), http.StatusSeeOther)
		})
	}
}

// guardClientDetail is the resource-scoped guard on /clients/{id}.
// Admins see every client; an se must hold an assignment. Denied staff
// land back on the clients list, anyone else on the client portal.
func (a *API) guardClientDetail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := access.PrincipalFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, access.PathSignIn, http.StatusSeeOther)
			return
		}

		clientID := clientIDFromPath(r.URL.Path)
		denyTo := access.PathClientHome
		if principal.Role == access.RoleAdmin || principal.Role == access.RoleSE {
			denyTo = access.PathClients
		}
		if clientID == "" {
			http.Redirect(w, r, denyTo, http.StatusSeeOther)
			return
		}

		if a.checker.CanAccessClient(r.Context(), principal.Role, principal.IdentityID, clientID) {
			next.ServeHTTP(w, r)
			return
		}

		obs.ObserveDecision("deny", principal.Role.String())
		audit.LogEvent(r.Context(), "access.denied", map[string]any{
			"path":        r.URL.Path,
			"client_id":   clientID,
			"redirect_to": denyTo,
		})
		http.Redirect(w, r, denyTo, http.StatusSeeOther)
	})
}

func loadingPage(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>Loading</title><p>Loading…</p>\n"))
}
