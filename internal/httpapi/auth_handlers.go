package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"harborview.app/internal/access"
	"harborview.app/internal/audit"
	"harborview.app/internal/identity"
	"harborview.app/internal/ids"
)

// signInWait bounds how long a credential call waits for the new
// session's role confirmation before answering.
const signInWait = 5 * time.Second

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type sessionResponse struct {
	Token      string `json:"token"`
	ExpiresAt  string `json:"expires_at"`
	Role       string `json:"role"`
	Phase      string `json:"phase"`
	RedirectTo string `json:"redirect_to"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	a.startSession(w, r, "auth.signin", func(p identity.Provider) (*identity.Session, error) {
		return p.SignInWithPassword(r.Context(), req.Email, req.Password)
	})
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	var metadata map[string]string
	if req.Role != "" {
		role, ok := access.ParseRole(req.Role)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unrecognized role")
			return
		}
		metadata = map[string]string{access.MetadataRoleKey: role.String()}
	}

	a.startSession(w, r, "auth.signup", func(p identity.Provider) (*identity.Session, error) {
		return p.SignUp(r.Context(), req.Email, req.Password, metadata)
	})
}

// startSession runs a credential operation inside a fresh session manager
// and, on success, binds the session cookie and answers with the token
// and the role-appropriate landing path. Credential failures answer with
// one deliberately generic message.
func (a *API) startSession(w http.ResponseWriter, r *http.Request, event string, op func(identity.Provider) (*identity.Session, error)) {
	sid := ids.New()
	mgr, err := a.sessions.Create(sid)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := mgr.Init(r.Context()); err != nil {
		a.sessions.Remove(sid)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err := op(mgr.Provider())
	if err != nil {
		a.sessions.Remove(sid)
		audit.LogEvent(r.Context(), event+".failed", map[string]any{})
		if errors.Is(err, identity.ErrEmailTaken) {
			writeError(w, r, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, r, http.StatusUnauthorized, "authentication error")
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), signInWait)
	defer cancel()
	st, err := mgr.WaitResolved(waitCtx)
	if err != nil {
		// Resolution is still running; the session stands and guards will
		// pick up the confirmed role on the next request.
		st = mgr.State()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})

	ctx := access.ContextWithPrincipal(r.Context(), access.Principal{
		IdentityID: sess.Identity.ID,
		Email:      sess.Identity.Email,
		Role:       st.Role.Role,
		Phase:      st.Role.Phase,
	})
	audit.LogEvent(ctx, event, map[string]any{
		"role_source": st.Role.Source.String(),
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:      sess.Token,
		ExpiresAt:  sess.ExpiresAt.UTC().Format(time.RFC3339),
		Role:       st.Role.Role.String(),
		Phase:      st.Role.Phase.String(),
		RedirectTo: st.Role.Role.HomePath(),
	})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	redirect := access.PathSignIn
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if mgr, ok := a.sessions.Get(c.Value); ok {
			redirect = mgr.SignOut(r.Context())
			a.sessions.Remove(c.Value)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	audit.LogEvent(r.Context(), "auth.signout", map[string]any{})
	writeJSON(w, http.StatusOK, map[string]any{
		"redirect_to": redirect,
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	principal, ok, loading := a.principalFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
			"loading":       loading,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"loading":       false,
		"identity": map[string]string{
			"id":    principal.IdentityID,
			"email": principal.Email,
		},
		"role":  principal.Role.String(),
		"phase": principal.Phase.String(),
	})
}
