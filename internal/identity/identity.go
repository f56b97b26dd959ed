// Package identity defines the boundary to the authentication provider:
// the observed Identity and Session shapes, the session-change event
// stream, and a local in-process provider used for development and tests.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrInvalidToken       = errors.New("identity: invalid token")
)

// Identity is an authenticated principal as reported by the provider. It
// is observed, never owned: the provider creates it on sign-up/sign-in and
// destroys it on sign-out or expiry. Metadata may carry a role hint under
// access.MetadataRoleKey.
type Identity struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	AvatarURL string            `json:"avatar_url,omitempty"`
}

// Session is a live provider session for one identity.
type Session struct {
	Identity  Identity  `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventKind enumerates provider session-change notifications.
type EventKind uint8

const (
	EventSignedIn EventKind = iota
	EventSignedOut
	EventUserUpdated
	EventTokenRefreshed
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "SIGNED_IN"
	case EventSignedOut:
		return "SIGNED_OUT"
	case EventUserUpdated:
		return "USER_UPDATED"
	case EventTokenRefreshed:
		return "TOKEN_REFRESHED"
	default:
		return "UNKNOWN"
	}
}

// Event is a session-change notification. Session is nil for
// EventSignedOut.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Listener receives session-change events. Delivery is synchronous on the
// goroutine that triggered the change; listeners must not block.
type Listener func(Event)

// Provider is the external auth provider contract consumed by the session
// manager. Subscribe must be callable before any session fetch so no
// event is dropped between fetch and registration.
type Provider interface {
	// Subscribe registers a session-change listener and returns an
	// unsubscribe function.
	Subscribe(fn Listener) (unsubscribe func())

	// Session returns the current session, or (nil, nil) when signed out.
	Session(ctx context.Context) (*Session, error)

	// SignInWithPassword authenticates credentials and starts a session.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp registers a new identity, optionally carrying profile
	// metadata (including a role hint), and starts a session.
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Session, error)

	// SignOut invalidates the provider-side session.
	SignOut(ctx context.Context) error
}
