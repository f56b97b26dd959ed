package pg

import (
	"context"
	"database/sql"
	"errors"

	"harborview.app/internal/access"
)

var _ access.AssignmentStore = (*AssignmentStore)(nil)

// AssignmentStore answers existence checks against the client-assignment
// relation. Rows are written by the admin assignment tooling; the access
// core only reads.
type AssignmentStore struct {
	db *sql.DB
}

// Assignments returns the assignment lookup store.
func (s *Store) Assignments() *AssignmentStore {
	return &AssignmentStore{db: s.db}
}

// Exists reports whether (identityID, clientID) is assigned. No row is
// (false, nil); only a failed query returns an error.
func (s *AssignmentStore) Exists(ctx context.Context, identityID, clientID string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from client_assignments
			where user_id = $1 and client_id = $2
		)
	`, identityID, clientID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return exists, nil
}
