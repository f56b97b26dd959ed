package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"harborview.app/internal/access"
	"harborview.app/internal/identity"
)

// fakeProvider is a scriptable identity.Provider.
type fakeProvider struct {
	mu        sync.Mutex
	listeners map[int]identity.Listener
	nextID    int

	session      *identity.Session
	sessionErr   error
	emitInFetch  *identity.Event
	signOutErr   error
	signOutCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]identity.Listener)}
}

func (p *fakeProvider) Subscribe(fn identity.Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) emit(ev identity.Event) {
	p.mu.Lock()
	fns := make([]identity.Listener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *fakeProvider) Session(ctx context.Context) (*identity.Session, error) {
	if p.emitInFetch != nil {
		// Simulates the provider firing a session-change notification
		// while the initial fetch is still in flight.
		p.emit(*p.emitInFetch)
	}
	return p.session, p.sessionErr
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	return nil, errors.New("not scripted")
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*identity.Session, error) {
	return nil, errors.New("not scripted")
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	p.mu.Unlock()
	return p.signOutErr
}

// gateStore is a RoleStore whose lookups can be held open per identity.
type gateStore struct {
	mu      sync.Mutex
	records map[string]access.RoleRecord
	gates   map[string]chan struct{}
}

func newGateStore() *gateStore {
	return &gateStore{
		records: make(map[string]access.RoleRecord),
		gates:   make(map[string]chan struct{}),
	}
}

func (s *gateStore) Get(ctx context.Context, identityID string) (access.RoleRecord, error) {
	s.mu.Lock()
	gate := s.gates[identityID]
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

func (s *gateStore) Insert(ctx context.Context, rec access.RoleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return access.ErrAlreadyExists
	}
	s.records[rec.ID] = rec
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestManager(t *testing.T, provider identity.Provider, store access.RoleStore, opts ...Option) *Manager {
	t.Helper()
	resolver, err := access.NewResolver(store, access.WithResolverLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	m, err := NewManager(provider, resolver, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func sessionFor(id, email string, metadata map[string]string) identity.Session {
	return identity.Session{
		Identity:  identity.Identity{ID: id, Email: email, Metadata: metadata},
		Token:     "tok-" + id,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func waitState(t *testing.T, m *Manager) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.WaitResolved(ctx)
	if err != nil {
		t.Fatalf("wait resolved: %v", err)
	}
	return st
}

func TestInitWithoutSession(t *testing.T) {
	m := newTestManager(t, newFakeProvider(), newGateStore())
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	st := m.State()
	if st.Loading {
		t.Fatalf("loading must be false after a definitive empty fetch")
	}
	if st.Authenticated() {
		t.Fatalf("expected signed out")
	}
}

func TestInitFetchFailureTreatedAsSignedOut(t *testing.T) {
	p := newFakeProvider()
	p.sessionErr = errors.New("network down")
	m := newTestManager(t, p, newGateStore())

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init must not surface the fetch failure, got %v", err)
	}
	st := m.State()
	if st.Loading || st.Authenticated() {
		t.Fatalf("fetch failure must resolve to signed out, got %+v", st)
	}
}

func TestInitAdoptsExistingSession(t *testing.T) {
	store := newGateStore()
	store.records["u1"] = access.RoleRecord{ID: "u1", Email: "se@example.com", Role: access.RoleSE}

	p := newFakeProvider()
	sess := sessionFor("u1", "se@example.com", nil)
	p.session = &sess

	m := newTestManager(t, p, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	st := waitState(t, m)
	if !st.Authenticated() || st.Identity.ID != "u1" {
		t.Fatalf("state = %+v", st)
	}
	if st.Role.Role != access.RoleSE || st.Role.Phase != access.PhaseConfirmed {
		t.Fatalf("role = %+v, want confirmed se", st.Role)
	}
}

func TestEventDuringInitialFetchIsNotDropped(t *testing.T) {
	store := newGateStore()
	store.records["u1"] = access.RoleRecord{ID: "u1", Email: "a@example.com", Role: access.RoleAdmin}

	p := newFakeProvider()
	sess := sessionFor("u1", "a@example.com", nil)
	p.session = nil // fetch reports signed out...
	p.emitInFetch = &identity.Event{Kind: identity.EventSignedIn, Session: &sess}

	m := newTestManager(t, p, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	// The SIGNED_IN delivered mid-fetch must win over the stale nil result.
	st := waitState(t, m)
	if !st.Authenticated() || st.Identity.ID != "u1" {
		t.Fatalf("mid-fetch sign-in was dropped: %+v", st)
	}
}

func TestTentativeHintVisibleWhileConfirming(t *testing.T) {
	store := newGateStore()
	gate := make(chan struct{})
	store.gates["u1"] = gate
	store.records["u1"] = access.RoleRecord{ID: "u1", Email: "a@example.com", Role: access.RoleAdmin}

	p := newFakeProvider()
	m := newTestManager(t, p, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	sess := sessionFor("u1", "a@example.com", map[string]string{access.MetadataRoleKey: "se"})
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})

	st := m.State()
	if !st.Loading {
		t.Fatalf("expected loading while confirmation is gated")
	}
	if st.Role.Role != access.RoleSE || st.Role.Phase != access.PhaseTentative {
		t.Fatalf("tentative role = %+v, want tentative se", st.Role)
	}

	close(gate)
	st = waitState(t, m)
	if st.Role.Role != access.RoleAdmin || st.Role.Phase != access.PhaseConfirmed {
		t.Fatalf("confirmed role = %+v, want confirmed admin (record beats hint)", st.Role)
	}
}

func TestLastEventWins(t *testing.T) {
	store := newGateStore()
	gate := make(chan struct{})
	store.gates["u1"] = gate
	store.records["u1"] = access.RoleRecord{ID: "u1", Email: "one@example.com", Role: access.RoleAdmin}
	store.records["u2"] = access.RoleRecord{ID: "u2", Email: "two@example.com", Role: access.RoleSE}

	p := newFakeProvider()
	m := newTestManager(t, p, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	first := sessionFor("u1", "one@example.com", nil)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &first})
	second := sessionFor("u2", "two@example.com", nil)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &second})

	st := waitState(t, m)
	if st.Identity.ID != "u2" || st.Role.Role != access.RoleSE {
		t.Fatalf("state = %+v, want the later session", st)
	}

	// Let the slow first resolution finish; it must be discarded.
	close(gate)
	time.Sleep(50 * time.Millisecond)
	st = m.State()
	if st.Identity.ID != "u2" || st.Role.Role != access.RoleSE {
		t.Fatalf("stale resolution overwrote newer state: %+v", st)
	}
}

func TestSignOutPurgesPrefixedArtifacts(t *testing.T) {
	store := newGateStore()
	p := newFakeProvider()
	artifacts := NewMemoryArtifacts()
	m := newTestManager(t, p, store, WithArtifacts(artifacts))
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	sess := sessionFor("u1", "a@example.com", nil)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})
	waitState(t, m)

	artifacts.Set(ScopeDurable, DefaultArtifactPrefix+"refresh", "r1")
	artifacts.Set(ScopeSession, DefaultArtifactPrefix+"csrf", "c1")
	artifacts.Set(ScopeDurable, "theme", "dark")

	redirect := m.SignOut(context.Background())
	if redirect != access.PathSignIn {
		t.Fatalf("redirect = %q, want %q", redirect, access.PathSignIn)
	}

	for _, key := range []string{DefaultArtifactPrefix + "token", DefaultArtifactPrefix + "refresh"} {
		if _, ok := artifacts.Get(ScopeDurable, key); ok {
			t.Fatalf("durable artifact %q survived sign-out", key)
		}
	}
	if _, ok := artifacts.Get(ScopeSession, DefaultArtifactPrefix+"csrf"); ok {
		t.Fatalf("session-scope artifact survived sign-out")
	}
	if _, ok := artifacts.Get(ScopeDurable, "theme"); !ok {
		t.Fatalf("unrelated artifact must survive sign-out")
	}

	st := m.State()
	if st.Authenticated() || st.Loading {
		t.Fatalf("state after sign-out = %+v", st)
	}

	// Signing out again is a harmless no-op.
	if redirect := m.SignOut(context.Background()); redirect != access.PathSignIn {
		t.Fatalf("second sign-out redirect = %q", redirect)
	}
}

func TestSignOutProviderFailureStillCleansUp(t *testing.T) {
	store := newGateStore()
	p := newFakeProvider()
	p.signOutErr = errors.New("provider unreachable")
	artifacts := NewMemoryArtifacts()
	m := newTestManager(t, p, store, WithArtifacts(artifacts))
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	sess := sessionFor("u1", "a@example.com", nil)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})
	waitState(t, m)

	redirect := m.SignOut(context.Background())
	if redirect != access.PathSignIn {
		t.Fatalf("redirect = %q despite provider failure", redirect)
	}
	if _, ok := artifacts.Get(ScopeDurable, DefaultArtifactPrefix+"token"); ok {
		t.Fatalf("token artifact survived failed provider sign-out")
	}
	if m.State().Authenticated() {
		t.Fatalf("local state must reset even when the provider call fails")
	}
	if p.signOutCalls != 1 {
		t.Fatalf("provider sign-out calls = %d, want 1", p.signOutCalls)
	}
}

func TestWaitResolvedHonorsContext(t *testing.T) {
	store := newGateStore()
	store.gates["u1"] = make(chan struct{}) // never released

	p := newFakeProvider()
	m := newTestManager(t, p, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	sess := sessionFor("u1", "a@example.com", nil)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.WaitResolved(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSubscriberSeesSignOut(t *testing.T) {
	store := newGateStore()
	p := newFakeProvider()
	m := newTestManager(t, p, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	sess := sessionFor("u1", "a@example.com", nil)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})
	waitState(t, m)

	var mu sync.Mutex
	var last State
	unsub := m.Subscribe(func(st State) {
		mu.Lock()
		last = st
		mu.Unlock()
	})
	defer unsub()

	p.emit(identity.Event{Kind: identity.EventSignedOut})

	mu.Lock()
	defer mu.Unlock()
	if last.Authenticated() {
		t.Fatalf("subscriber still sees an identity after SIGNED_OUT: %+v", last)
	}
}
