package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"harborview.app/internal/access"
)

var _ access.RoleStore = (*RoleStore)(nil)

// RoleStore reads and bootstraps profile role records.
type RoleStore struct {
	db *sql.DB
}

// Roles returns the role backing store.
func (s *Store) Roles() *RoleStore {
	return &RoleStore{db: s.db}
}

// Get loads the role record for an identity. A missing row maps to
// access.ErrNotFound so resolution can fall through to the metadata hint.
func (s *RoleStore) Get(ctx context.Context, identityID string) (access.RoleRecord, error) {
	if s.db == nil {
		return access.RoleRecord{}, errors.New("database connection unavailable")
	}
	var (
		rec     access.RoleRecord
		rawRole string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, email, role, created_at, updated_at
		from profiles
		where id = $1
	`, identityID).Scan(&rec.ID, &rec.Email, &rawRole, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.RoleRecord{}, access.ErrNotFound
	}
	if err != nil {
		return access.RoleRecord{}, err
	}
	role, ok := access.ParseRole(rawRole)
	if !ok {
		return access.RoleRecord{}, fmt.Errorf("profile %s: unknown role %q", identityID, rawRole)
	}
	rec.Role = role
	return rec, nil
}

// Insert bootstraps a role record from a metadata hint. A row-level
// policy rejection maps to access.ErrPolicyDenied and a duplicate to
// access.ErrAlreadyExists; both are non-fatal to the caller.
func (s *RoleStore) Insert(ctx context.Context, rec access.RoleRecord) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if rec.ID == "" || !rec.Role.Valid() {
		return fmt.Errorf("%w: id and role are required", access.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into profiles (id, email, role)
		values ($1, $2, $3)
	`, rec.ID, rec.Email, rec.Role.String())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrInsufficientPrivilege:
				return access.ErrPolicyDenied
			case pgErrUniqueViolation:
				return access.ErrAlreadyExists
			}
		}
		return err
	}
	return nil
}
