package access

import (
	"context"
	"errors"
	"log"
	"time"

	"harborview.app/internal/obs"
)

// ClientAssignment links an identity to a client organization it may
// operate on: many-to-many for SEs, one-to-one for client users. Managed
// by admin tooling; read-only here.
type ClientAssignment struct {
	IdentityID string    `json:"identity_id"`
	ClientID   string    `json:"client_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssignmentStore checks the assignment relation. Exists returns
// (false, nil) when no row is present; an error means the lookup itself
// failed. The distinction matters: absence is the ordinary negative case,
// only genuine failures are logged as errors.
type AssignmentStore interface {
	Exists(ctx context.Context, identityID, clientID string) (bool, error)
}

// Checker answers per-resource access questions against the assignment
// relation, with the admin bypass applied.
type Checker struct {
	store  AssignmentStore
	logger *log.Logger
}

// NewChecker constructs a Checker. A nil logger falls back to the shared
// service logger.
func NewChecker(store AssignmentStore, logger *log.Logger) (*Checker, error) {
	if store == nil {
		return nil, errors.New("access: assignment store is required")
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Checker{store: store, logger: logger}, nil
}

// CanAccessClient reports whether the identity may operate on the given
// client organization. Admins bypass the relation entirely; se and client
// roles require an assignment row. Lookup failures deny (fail closed) and
// are logged, without being surfaced to the caller.
func (c *Checker) CanAccessClient(ctx context.Context, role Role, identityID, clientID string) bool {
	if role == RoleAdmin {
		return true
	}
	if role != RoleSE && role != RoleClient {
		return false
	}
	ok, err := c.store.Exists(ctx, identityID, clientID)
	if err != nil {
		c.logger.Printf("access: assignment lookup (%s, %s) failed, denying: %v", identityID, clientID, err)
		obs.ObserveDecision("error", role.String())
		return false
	}
	return ok
}
