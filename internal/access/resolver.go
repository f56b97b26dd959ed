package access

import (
	"context"
	"errors"
	"log"
	"time"

	"harborview.app/internal/obs"
)

// RoleRecord is the backing-store row holding an identity's resolved role.
type RoleRecord struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleStore is the persistence contract for role records. Get reports a
// missing record with ErrNotFound; Insert reports a store-policy rejection
// with ErrPolicyDenied and a duplicate with ErrAlreadyExists. Any other
// error is a genuine failure.
type RoleStore interface {
	Get(ctx context.Context, identityID string) (RoleRecord, error)
	Insert(ctx context.Context, rec RoleRecord) error
}

// Phase distinguishes an optimistic role from a store-confirmed one.
// Consumers making sensitive decisions can require PhaseConfirmed.
type Phase uint8

const (
	PhaseTentative Phase = iota
	PhaseConfirmed
)

func (p Phase) String() string {
	if p == PhaseConfirmed {
		return "confirmed"
	}
	return "tentative"
}

// Source records which authority produced a resolution.
type Source uint8

const (
	SourceRecord Source = iota
	SourceHint
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceRecord:
		return "record"
	case SourceHint:
		return "hint"
	default:
		return "default"
	}
}

// Resolution is a role value together with its provenance.
type Resolution struct {
	Role   Role
	Phase  Phase
	Source Source
}

// MetadataRoleKey is the profile-metadata key an identity may carry as a
// role hint before a backing record exists.
const MetadataRoleKey = "role"

// HintFromMetadata extracts a tentative role from identity profile
// metadata. Absent or unrecognized hints report false.
func HintFromMetadata(metadata map[string]string) (Role, bool) {
	if len(metadata) == 0 {
		return RoleUnknown, false
	}
	return ParseRole(metadata[MetadataRoleKey])
}

// Resolver produces a confirmed role for an identity, reconciling the
// backing store with the metadata hint. Authority order: backing record,
// then hint, then the hard default RoleClient. A hint can bootstrap an
// initial record but never overrides an existing one.
type Resolver struct {
	store  RoleStore
	logger *log.Logger
	now    func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger overrides the logger used for non-fatal store errors.
func WithResolverLogger(l *log.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver backed by store.
func NewResolver(store RoleStore, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("access: role store is required")
	}
	r := &Resolver{
		store:  store,
		logger: obs.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the confirmed role for the identity. It never returns
// an error: every failure path resolves to the least-privileged default,
// and resolution completing is what callers key "loading finished" on.
func (r *Resolver) Resolve(ctx context.Context, identityID, email string, hint Role) Resolution {
	rec, err := r.store.Get(ctx, identityID)
	switch {
	case err == nil:
		if !rec.Role.Valid() {
			r.logger.Printf("access: profile %s carries invalid role, defaulting to client", identityID)
			return r.observe(Resolution{Role: RoleClient, Phase: PhaseConfirmed, Source: SourceDefault})
		}
		return r.observe(Resolution{Role: rec.Role, Phase: PhaseConfirmed, Source: SourceRecord})
	case errors.Is(err, ErrNotFound):
		if hint.Valid() {
			r.reconcile(ctx, identityID, email, hint)
			return r.observe(Resolution{Role: hint, Phase: PhaseConfirmed, Source: SourceHint})
		}
		return r.observe(Resolution{Role: RoleClient, Phase: PhaseConfirmed, Source: SourceDefault})
	default:
		r.logger.Printf("access: role lookup for %s failed, defaulting to client: %v", identityID, err)
		return r.observe(Resolution{Role: RoleClient, Phase: PhaseConfirmed, Source: SourceDefault})
	}
}

// reconcile writes the hinted role into the backing store so the next
// resolution reads it authoritatively. Rejections are logged and
// swallowed: the user already holds a usable role for this session.
func (r *Resolver) reconcile(ctx context.Context, identityID, email string, hint Role) {
	now := r.now().UTC()
	rec := RoleRecord{
		ID:        identityID,
		Email:     email,
		Role:      hint,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.store.Insert(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, ErrPolicyDenied):
		r.logger.Printf("access: role record insert for %s rejected by store policy, continuing with hint %s", identityID, hint)
	case errors.Is(err, ErrAlreadyExists):
		r.logger.Printf("access: role record for %s appeared concurrently, continuing with hint %s", identityID, hint)
	default:
		r.logger.Printf("access: role record insert for %s failed, continuing with hint %s: %v", identityID, hint, err)
	}
}

func (r *Resolver) observe(res Resolution) Resolution {
	obs.ObserveRoleResolution(res.Source.String(), res.Role.String())
	return res
}
