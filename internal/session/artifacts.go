package session

import (
	"strings"
	"sync"
)

// Scope separates durable artifacts from session-lifetime ones, mirroring
// the two browser storage areas the auth provider writes into.
type Scope uint8

const (
	ScopeDurable Scope = iota
	ScopeSession
)

// ArtifactStore persists provider auth artifacts (tokens and whatever
// per-session bookkeeping keys the provider invents). Sign-out must be
// able to enumerate keys, because the set is not fixed.
type ArtifactStore interface {
	Set(scope Scope, key, value string)
	Get(scope Scope, key string) (string, bool)
	Keys(scope Scope) []string
	Delete(scope Scope, key string)
}

// MemoryArtifacts is the in-process ArtifactStore.
type MemoryArtifacts struct {
	mu      sync.Mutex
	durable map[string]string
	session map[string]string
}

var _ ArtifactStore = (*MemoryArtifacts)(nil)

func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{
		durable: make(map[string]string),
		session: make(map[string]string),
	}
}

func (m *MemoryArtifacts) Set(scope Scope, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.area(scope)[key] = value
}

func (m *MemoryArtifacts) Get(scope Scope, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.area(scope)[key]
	return v, ok
}

func (m *MemoryArtifacts) Keys(scope Scope) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	area := m.area(scope)
	keys := make([]string, 0, len(area))
	for k := range area {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryArtifacts) Delete(scope Scope, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.area(scope), key)
}

func (m *MemoryArtifacts) area(scope Scope) map[string]string {
	if scope == ScopeSession {
		return m.session
	}
	return m.durable
}

// PurgePrefix removes every key matching prefix from both scopes and
// returns how many were deleted. Removing only the single well-known
// token key is not enough: the provider creates extra keys dynamically.
func PurgePrefix(store ArtifactStore, prefix string) int {
	removed := 0
	for _, scope := range []Scope{ScopeDurable, ScopeSession} {
		for _, key := range store.Keys(scope) {
			if strings.HasPrefix(key, prefix) {
				store.Delete(scope, key)
				removed++
			}
		}
	}
	return removed
}
