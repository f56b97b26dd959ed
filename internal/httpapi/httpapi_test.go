package httpapi

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"

	"harborview.app/internal/access"
	"harborview.app/internal/identity"
	"harborview.app/internal/session"
)

// memRoleStore is an in-memory access.RoleStore. A gate, when set, holds
// Get open so tests can observe the in-flight resolution window.
type memRoleStore struct {
	mu      sync.Mutex
	records map[string]access.RoleRecord
	gate    chan struct{}
}

func newMemRoleStore() *memRoleStore {
	return &memRoleStore{records: make(map[string]access.RoleRecord)}
}

func (s *memRoleStore) put(rec access.RoleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

func (s *memRoleStore) Get(ctx context.Context, identityID string) (access.RoleRecord, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return access.RoleRecord{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identityID]
	if !ok {
		return access.RoleRecord{}, access.ErrNotFound
	}
	return rec, nil
}

func (s *memRoleStore) Insert(ctx context.Context, rec access.RoleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return access.ErrAlreadyExists
	}
	s.records[rec.ID] = rec
	return nil
}

type memAssignmentStore struct {
	mu   sync.Mutex
	rows map[string]bool
}

func newMemAssignmentStore() *memAssignmentStore {
	return &memAssignmentStore{rows: make(map[string]bool)}
}

func (s *memAssignmentStore) assign(identityID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[identityID+"/"+clientID] = true
}

func (s *memAssignmentStore) Exists(ctx context.Context, identityID, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[identityID+"/"+clientID], nil
}

type testEnv struct {
	api         *API
	handler     http.Handler
	codec       *identity.TokenCodec
	directory   *identity.Directory
	roles       *memRoleStore
	assignments *memAssignmentStore
	sessions    *session.Registry
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	codec, err := identity.NewTokenCodec("test-secret", "harborview")
	if err != nil {
		t.Fatalf("token codec: %v", err)
	}
	roles := newMemRoleStore()
	resolver, err := access.NewResolver(roles, access.WithResolverLogger(quietLogger()))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	assignments := newMemAssignmentStore()
	checker, err := access.NewChecker(assignments, quietLogger())
	if err != nil {
		t.Fatalf("checker: %v", err)
	}
	directory := identity.NewDirectory()
	registry := session.NewRegistry(func() (*session.Manager, error) {
		return session.NewManager(identity.NewClient(directory, codec), resolver, session.WithLogger(quietLogger()))
	})
	t.Cleanup(registry.Close)

	api := New(Config{
		Version:  "test",
		Codec:    codec,
		Resolver: resolver,
		Checker:  checker,
		Sessions: registry,
	})
	return &testEnv{
		api:         api,
		handler:     RequestID(api.mux),
		codec:       codec,
		directory:   directory,
		roles:       roles,
		assignments: assignments,
		sessions:    registry,
	}
}

// bearerFor registers a role record and mints a token for it.
func (env *testEnv) bearerFor(t *testing.T, id, email string, role access.Role) string {
	t.Helper()
	env.roles.put(access.RoleRecord{ID: id, Email: email, Role: role})
	token, _, err := env.codec.Mint(identity.Identity{ID: id, Email: email})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return "Bearer " + token
}
