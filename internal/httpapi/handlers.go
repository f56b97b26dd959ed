// Package httpapi is the HTTP surface of the portal: health and info
// endpoints, the credential endpoints, and the guarded page routes whose
// authorization chain is the point of the service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"harborview.app/internal/access"
	"harborview.app/internal/identity"
	"harborview.app/internal/obs"
	"harborview.app/internal/session"
)

// ReadyProbe reports backing-store readiness (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	ReadyProbe ReadyProbe
	Version    string
	Codec      *identity.TokenCodec
	Resolver   *access.Resolver
	Checker    *access.Checker
	Sessions   *session.Registry
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	codec      *identity.TokenCodec
	resolver   *access.Resolver
	checker    *access.Checker
	sessions   *session.Registry
}

// adminPages are the console routes shared by admin and se roles. The
// clients list and client-detail routes are registered separately because
// detail pages carry the resource-scoped guard.
var adminPages = []struct {
	path  string
	title string
}{
	{access.PathAdminHome, "Dashboard"},
	{"/workflows", "Workflows"},
	{"/exceptions", "Exceptions"},
	{"/billing", "Billing"},
	{"/subscriptions", "Subscriptions"},
	{"/reporting", "Reporting"},
	{"/messaging", "Messaging"},
	{"/users", "Users"},
	{"/settings", "Settings"},
}

// New assembles the API and registers routes.
func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		codec:      cfg.Codec,
		resolver:   cfg.Resolver,
		checker:    cfg.Checker,
		sessions:   cfg.Sessions,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// credential endpoints; sign-in and sign-up are rate limited
	a.mux.Handle("/v1/auth/signin", RateLimit(http.HandlerFunc(a.handleSignIn), 5, 2))
	a.mux.Handle("/v1/auth/signup", RateLimit(http.HandlerFunc(a.handleSignUp), 5, 2))
	a.mux.HandleFunc("/v1/auth/signout", a.handleSignOut)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)

	// public pages
	a.mux.Handle("/auth", a.protect(a.page("Sign in")))

	// any authenticated identity
	a.mux.Handle("/profile", a.protect(a.page("Profile")))

	// admin/se console
	for _, p := range adminPages {
		h := a.protect(a.requireRoles(access.RoleAdmin, access.RoleSE)(a.page(p.title)))
		a.mux.Handle(p.path, h)
		a.mux.Handle(p.path+"/", h)
	}
	a.mux.Handle(access.PathClients, a.protect(a.requireRoles(access.RoleAdmin, access.RoleSE)(a.page("Clients"))))
	a.mux.Handle(access.PathClients+"/", a.protect(a.guardClientDetail(http.HandlerFunc(a.clientDetailPage))))

	// client self-service portal
	clientArea := a.protect(a.requireRoles(access.RoleClient)(a.page("Client portal")))
	a.mux.Handle("/client", clientArea)
	a.mux.Handle("/client/", clientArea)

	// home (and 404 for everything unrouted)
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != access.PathHome {
			http.NotFound(w, r)
			return
		}
		a.page("Harborview").ServeHTTP(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = LoggingJSON(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "harborview-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "harborview-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// page renders a minimal HTML shell for a guarded route. The real portal
// UI is rendered client-side; the shell exists so the guard chain has
// something to protect.
func (a *API) page(title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><title>%s</title><h1>%s</h1>\n", title, title)
	})
}

func (a *API) clientDetailPage(w http.ResponseWriter, r *http.Request) {
	clientID := clientIDFromPath(r.URL.Path)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><title>Client %s</title><h1>Client %s</h1>\n", clientID, clientID)
}

func clientIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, access.PathClients+"/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
