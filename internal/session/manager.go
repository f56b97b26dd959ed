// Package session owns the authenticated-session state for one portal
// session: the current identity, its resolved role, and the loading flag
// consumers use to distinguish "not yet known" from "known signed out".
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"harborview.app/internal/access"
	"harborview.app/internal/identity"
	"harborview.app/internal/obs"
)

// DefaultArtifactPrefix namespaces every locally persisted auth artifact.
const DefaultArtifactPrefix = "hv-auth-"

const resolveTimeout = 10 * time.Second

// State is the subscriber view of the session. Loading is true from
// initialization (or a new sign-in event) until role resolution for that
// event finishes; it reports completion, not success.
type State struct {
	Identity *identity.Identity
	Role     access.Resolution
	Loading  bool
}

// Authenticated reports whether a live identity is present.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// Manager is the identity session manager. It observes provider
// session-change events, drives role resolution, and delivers state
// updates synchronously to subscribers. Only the manager writes the
// session cell; everyone else reads.
type Manager struct {
	provider  identity.Provider
	resolver  *access.Resolver
	artifacts ArtifactStore
	prefix    string
	logger    *log.Logger

	mu          sync.Mutex
	identity    *identity.Identity
	role        access.Resolution
	loading     bool
	seq         uint64
	resolved    chan struct{}
	subscribers map[int]func(State)
	nextSub     int
	unsubscribe func()
	cancel      context.CancelFunc
	baseCtx     context.Context
	closed      bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithArtifacts overrides the artifact store.
func WithArtifacts(store ArtifactStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.artifacts = store
		}
	}
}

// WithArtifactPrefix overrides the artifact key namespace.
func WithArtifactPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager. Call Init before use and Close when
// the session ends.
func NewManager(provider identity.Provider, resolver *access.Resolver, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if resolver == nil {
		return nil, errors.New("session: resolver is required")
	}
	m := &Manager{
		provider:    provider,
		resolver:    resolver,
		artifacts:   NewMemoryArtifacts(),
		prefix:      DefaultArtifactPrefix,
		logger:      obs.Logger(),
		loading:     true,
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Init registers the session-change listener and then performs the
// initial session fetch. The order is a correctness requirement: an event
// firing between fetch and registration would otherwise be dropped.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("session: manager is closed")
	}
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return errors.New("session: already initialized")
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.unsubscribe = m.provider.Subscribe(m.handleEvent)

	m.mu.Lock()
	seq := m.seq
	m.mu.Unlock()

	sess, err := m.provider.Session(ctx)

	// An event delivered during the fetch is newer than the fetch result;
	// in that case the result is stale and must not overwrite it.
	m.mu.Lock()
	superseded := m.seq != seq
	m.mu.Unlock()
	if superseded {
		return nil
	}

	if err != nil {
		// A failed fetch is treated as "no session": the user lands on
		// sign-in, no automatic retry.
		m.logger.Printf("session: initial session fetch failed, treating as signed out: %v", err)
		m.reset()
		return nil
	}
	if sess == nil {
		m.reset()
		return nil
	}
	m.adopt(*sess)
	return nil
}

// Close tears the manager down: pending resolutions are abandoned and the
// provider listener is removed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsub := m.unsubscribe
	cancel := m.cancel
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// Provider exposes the underlying provider for credential operations.
func (m *Manager) Provider() identity.Provider {
	return m.provider
}

// Artifacts exposes the artifact store (the sign-in flow records provider
// keys through it).
func (m *Manager) Artifacts() ArtifactStore {
	return m.artifacts
}

// State returns a snapshot of the session cell.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	st := State{Role: m.role, Loading: m.loading}
	if m.identity != nil {
		ident := *m.identity
		st.Identity = &ident
	}
	return st
}

// Subscribe registers a state listener, delivered synchronously on every
// change. The returned function removes it.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// WaitResolved blocks until role resolution for the latest session event
// has completed, then returns the state. It respects ctx for callers that
// would rather render a loading view than wait indefinitely.
func (m *Manager) WaitResolved(ctx context.Context) (State, error) {
	for {
		m.mu.Lock()
		if !m.loading {
			st := m.stateLocked()
			m.mu.Unlock()
			return st, nil
		}
		ch := m.resolved
		m.mu.Unlock()
		if ch == nil {
			// Loading but no resolution in flight yet; yield via ctx.
			select {
			case <-ctx.Done():
				return State{}, ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return State{}, ctx.Err()
		}
	}
}

// SignOut clears local auth state and asks the provider to invalidate the
// session. Local cleanup always runs: every artifact key under the
// configured prefix is purged from both scopes, state resets to signed
// out, and the sign-in path is returned for the caller to navigate to. A
// failing provider call is logged, never surfaced, and never blocks the
// cleanup. Safe to call repeatedly.
func (m *Manager) SignOut(ctx context.Context) string {
	removed := PurgePrefix(m.artifacts, m.prefix)
	if removed > 0 {
		m.logger.Printf("session: purged %d auth artifact(s)", removed)
	}

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Printf("session: provider sign-out failed, continuing local cleanup: %v", err)
	}

	// The provider emits SIGNED_OUT on success, which also resets; reset
	// directly as well so a failed remote call cannot leave stale state.
	m.reset()
	return access.PathSignIn
}

func (m *Manager) handleEvent(ev identity.Event) {
	switch ev.Kind {
	case identity.EventSignedIn, identity.EventUserUpdated, identity.EventTokenRefreshed:
		if ev.Session == nil {
			m.logger.Printf("session: %s event without session ignored", ev.Kind)
			return
		}
		m.adopt(*ev.Session)
	case identity.EventSignedOut:
		m.reset()
	}
}

// adopt installs the session's identity, tentatively adopts the metadata
// role hint so the UI is not blocked on the store, and kicks off
// confirmation. Each adoption bumps the sequence number; a resolution
// finishing for an older sequence is discarded (last event wins).
func (m *Manager) adopt(sess identity.Session) {
	ident := sess.Identity

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.seq++
	seq := m.seq
	if m.loading && m.resolved != nil {
		// Release waiters parked on the superseded event; they re-check
		// state and park again on the new channel.
		close(m.resolved)
	}
	m.identity = &ident
	hint, hasHint := access.HintFromMetadata(ident.Metadata)
	if hasHint {
		m.role = access.Resolution{Role: hint, Phase: access.PhaseTentative, Source: access.SourceHint}
	} else {
		m.role = access.Resolution{}
	}
	m.loading = true
	m.resolved = make(chan struct{})
	done := m.resolved
	baseCtx := m.baseCtx
	m.mu.Unlock()

	m.artifacts.Set(ScopeDurable, m.prefix+"token", sess.Token)

	m.notify()

	if baseCtx == nil {
		baseCtx = context.Background()
	}
	go m.confirm(baseCtx, seq, ident, hint, done)
}

func (m *Manager) confirm(baseCtx context.Context, seq uint64, ident identity.Identity, hint access.Role, done chan struct{}) {
	ctx, cancel := context.WithTimeout(baseCtx, resolveTimeout)
	defer cancel()

	res := m.resolver.Resolve(ctx, ident.ID, ident.Email, hint)

	m.mu.Lock()
	if m.closed || seq != m.seq {
		// A newer event superseded this resolution, or the manager is
		// gone; do not touch state.
		m.mu.Unlock()
		return
	}
	m.role = res
	m.loading = false
	close(done)
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.seq++
	m.identity = nil
	m.role = access.Resolution{Role: access.RoleClient, Phase: access.PhaseConfirmed, Source: access.SourceDefault}
	wasLoading := m.loading
	m.loading = false
	if wasLoading && m.resolved != nil {
		close(m.resolved)
	}
	m.resolved = nil
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) notify() {
	m.mu.Lock()
	st := m.stateLocked()
	fns := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}
