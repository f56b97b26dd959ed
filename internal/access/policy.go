package access

import "strings"

// Canonical navigation targets.
const (
	PathHome       = "/"
	PathSignIn     = "/auth"
	PathProfile    = "/profile"
	PathAdminHome  = "/dashboard"
	PathClientHome = "/client/dashboard"
	PathClients    = "/clients"
)

// adminAreaPrefixes covers the admin/SE console, including client-detail
// sub-paths under /clients/.
var adminAreaPrefixes = []string{
	"/dashboard",
	"/clients",
	"/workflows",
	"/exceptions",
	"/billing",
	"/subscriptions",
	"/reporting",
	"/messaging",
	"/users",
	"/settings",
}

const clientAreaPrefix = "/client"

var publicPaths = []string{
	PathHome,
	PathSignIn,
}

// Decision is the outcome of a policy evaluation. RedirectTo is set only
// when Allowed is false; a redirect is the portal's denial surface, there
// is no "access denied" page.
type Decision struct {
	Allowed    bool
	RedirectTo string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(redirectTo string) Decision {
	return Decision{RedirectTo: redirectTo}
}

// Decide evaluates whether the given role may navigate to path. It is a
// pure function: identical inputs always yield identical decisions, and
// it performs no I/O. Rules are evaluated in order, first match wins:
//
//  1. no identity and path not public -> deny, sign-in
//  2. public path, or profile path for any authenticated identity -> allow
//  3. admin or se on an admin-area path -> allow
//  4. client on a client-area path -> allow
//  5. otherwise deny, redirect to the canonical home for the role
func Decide(path string, role Role, identityPresent bool) Decision {
	if !identityPresent && !isPublicPath(path) {
		return deny(PathSignIn)
	}
	if isPublicPath(path) || (identityPresent && path == PathProfile) {
		return allow()
	}
	switch role {
	case RoleAdmin, RoleSE:
		if inArea(path, adminAreaPrefixes) {
			return allow()
		}
	case RoleClient:
		if matchesPrefix(path, clientAreaPrefix) {
			return allow()
		}
	}
	return deny(role.HomePath())
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func inArea(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if matchesPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// matchesPrefix matches on path-segment boundaries, so /clients covers
// /clients/42 but not /clientsfoo, and /client does not swallow /clients.
func matchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
