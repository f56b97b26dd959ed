package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"harborview.app/internal/access"
	"harborview.app/internal/session"
)

const (
	authHeader    = "Authorization"
	bearerPrefix  = "Bearer "
	sessionCookie = "hv_sid"

	// guardWait bounds how long a page request waits for an in-flight
	// role confirmation before rendering the loading shell.
	guardWait = 2 * time.Second
)

var errNoBearer = errors.New("authorization header is not a bearer token")

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errNoBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}

// principalFromRequest establishes the caller's identity and role.
//
// A bearer token is verified and resolved synchronously, so every request
// carrying one gets a confirmed role before any guard runs. A session
// cookie defers to the session manager and waits briefly for its
// confirmation; if the wait elapses the third return value reports that
// resolution is still in flight, which guards must not treat as a denial.
func (a *API) principalFromRequest(r *http.Request) (access.Principal, bool, bool) {
	var zero access.Principal

	if header := r.Header.Get(authHeader); header != "" {
		token, err := extractBearerToken(header)
		if err != nil {
			return zero, false, false
		}
		ident, err := a.codec.Parse(token)
		if err != nil {
			return zero, false, false
		}
		hint, _ := access.HintFromMetadata(ident.Metadata)
		res := a.resolver.Resolve(r.Context(), ident.ID, ident.Email, hint)
		return access.Principal{
			IdentityID: ident.ID,
			Email:      ident.Email,
			Role:       res.Role,
			Phase:      res.Phase,
		}, true, false
	}

	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if mgr, ok := a.sessions.Get(c.Value); ok {
			return principalFromManager(r.Context(), mgr)
		}
	}

	return zero, false, false
}

func principalFromManager(ctx context.Context, mgr *session.Manager) (access.Principal, bool, bool) {
	var zero access.Principal

	waitCtx, cancel := context.WithTimeout(ctx, guardWait)
	defer cancel()
	st, err := mgr.WaitResolved(waitCtx)
	if err != nil {
		// Still resolving. The caller renders a neutral loading state
		// instead of denying prematurely.
		return zero, false, true
	}
	if !st.Authenticated() {
		return zero, false, false
	}
	return access.Principal{
		IdentityID: st.Identity.ID,
		Email:      st.Identity.Email,
		Role:       st.Role.Role,
		Phase:      st.Role.Phase,
	}, true, false
}
