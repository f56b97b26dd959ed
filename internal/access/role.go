package access

import (
	"fmt"
	"strings"
)

// Role is the closed set of portal roles. The zero value is not a valid
// role; it represents "not yet resolved" and must never be granted access.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleSE
	RoleClient
)

const (
	roleAdminName  = "admin"
	roleSEName     = "se"
	roleClientName = "client"
)

// ParseRole maps a stored or metadata role string onto the closed enum.
// Unrecognized values report false rather than defaulting, so callers can
// fail closed explicitly.
func ParseRole(raw string) (Role, bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case roleAdminName:
		return RoleAdmin, true
	case roleSEName:
		return RoleSE, true
	case roleClientName:
		return RoleClient, true
	default:
		return RoleUnknown, false
	}
}

// Valid reports whether r is one of the three real roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSE || r == RoleClient
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return roleAdminName
	case RoleSE:
		return roleSEName
	case RoleClient:
		return roleClientName
	default:
		return "unknown"
	}
}

// HomePath returns the canonical landing path for the role. Unresolved
// roles land on the sign-in screen.
func (r Role) HomePath() string {
	switch r {
	case RoleAdmin, RoleSE:
		return PathAdminHome
	case RoleClient:
		return PathClientHome
	default:
		return PathSignIn
	}
}

// MarshalText encodes the role name for JSON payloads.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: role %d has no name", ErrInvalidInput, r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(data []byte) error {
	parsed, ok := ParseRole(string(data))
	if !ok {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, string(data))
	}
	*r = parsed
	return nil
}
