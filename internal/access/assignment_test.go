package access

import (
	"context"
	"errors"
	"testing"
)

type fakeAssignmentStore struct {
	rows map[string]bool
	err  error
}

func (s *fakeAssignmentStore) Exists(ctx context.Context, identityID, clientID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.rows[identityID+"/"+clientID], nil
}

func newTestChecker(t *testing.T, store AssignmentStore) *Checker {
	t.Helper()
	c, err := NewChecker(store, quietLogger())
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	return c
}

func TestCanAccessClientAdminBypass(t *testing.T) {
	// Admin never touches the assignment relation, even one that errors.
	c := newTestChecker(t, &fakeAssignmentStore{err: errors.New("down")})
	if !c.CanAccessClient(context.Background(), RoleAdmin, "u1", "c1") {
		t.Fatalf("admin must access any client")
	}
}

func TestCanAccessClientRequiresAssignment(t *testing.T) {
	store := &fakeAssignmentStore{rows: map[string]bool{"u1/c1": true}}
	c := newTestChecker(t, store)

	if !c.CanAccessClient(context.Background(), RoleSE, "u1", "c1") {
		t.Fatalf("assigned se must have access")
	}
	if c.CanAccessClient(context.Background(), RoleSE, "u1", "c2") {
		t.Fatalf("unassigned se must be denied")
	}
	if !c.CanAccessClient(context.Background(), RoleClient, "u1", "c1") {
		t.Fatalf("assigned client user must have access")
	}
}

func TestCanAccessClientLookupFailureDenies(t *testing.T) {
	c := newTestChecker(t, &fakeAssignmentStore{err: errors.New("timeout")})
	if c.CanAccessClient(context.Background(), RoleSE, "u1", "c1") {
		t.Fatalf("lookup failure must deny")
	}
}

func TestCanAccessClientUnknownRoleDenies(t *testing.T) {
	c := newTestChecker(t, &fakeAssignmentStore{rows: map[string]bool{"u1/c1": true}})
	if c.CanAccessClient(context.Background(), RoleUnknown, "u1", "c1") {
		t.Fatalf("unresolved role must be denied")
	}
}
