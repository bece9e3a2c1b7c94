package rbac

// Identity is the signed-in user as known to the session store.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Source records how a role was determined.
type Source string

const (
	SourceAllowList Source = "allow_list"
	SourceStore     Source = "store"
	SourceFallback  Source = "fallback"
	SourceNone      Source = "none"
)

// Access is the outcome of resolving an identity. The predicates consult the
// allow-list on every call so a changed email never inherits a stale answer.
type Access struct {
	Identity Identity
	Role     Role
	Source   Source

	allow *AllowList
}

// NewAccess assembles an Access value outside the resolver, mostly for tests
// and for identities restored from a trusted source.
func NewAccess(identity Identity, role Role, allow *AllowList) Access {
	return Access{Identity: identity, Role: role, Source: SourceNone, allow: allow}
}

func (a Access) Authenticated() bool {
	return a.Identity.UserID != ""
}

func (a Access) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin || a.allow.Contains(a.Identity.Email)
}

func (a Access) IsContentMaker() bool {
	return a.Role == RoleContentMaker || a.IsSuperAdmin()
}

// EffectiveRole is the maximum of the resolved role and the allow-list floor.
func (a Access) EffectiveRole() Role {
	if a.IsSuperAdmin() {
		return RoleSuperAdmin
	}
	return a.Role.Effective()
}

// Satisfies reports whether the access meets the required level. RoleUnknown
// and RoleViewer only require an identity to be present.
func (a Access) Satisfies(required Role) bool {
	switch required.Effective() {
	case RoleSuperAdmin:
		return a.IsSuperAdmin()
	case RoleContentMaker:
		return a.IsContentMaker()
	default:
		return true
	}
}

// AllowListed reports whether the identity's email is on the allow-list.
func (a Access) AllowListed() bool {
	return a.allow.Contains(a.Identity.Email)
}
