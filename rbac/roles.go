package rbac

import (
	"fmt"
	"strings"
)

// Role is a permission level. Levels are totally ordered by privilege so
// checks compare values instead of matching strings.
type Role int

const (
	// RoleUnknown is the result of a lookup that could not complete. It grants
	// nothing beyond RoleViewer.
	RoleUnknown Role = iota
	RoleViewer
	RoleContentMaker
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleUnknown:      "unknown",
	RoleViewer:       "viewer",
	RoleContentMaker: "content_maker",
	RoleSuperAdmin:   "super_admin",
}

// ParseRole converts the persisted text form into a Role.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "viewer":
		return RoleViewer, nil
	case "content_maker":
		return RoleContentMaker, nil
	case "super_admin":
		return RoleSuperAdmin, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", value)
	}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return roleNames[RoleUnknown]
}

// Effective folds RoleUnknown into RoleViewer.
func (r Role) Effective() Role {
	if r <= RoleUnknown || r > RoleSuperAdmin {
		return RoleViewer
	}
	return r
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Effective() >= min.Effective()
}

// Max returns the more privileged of the two roles.
func Max(a, b Role) Role {
	switch {
	case a == RoleUnknown:
		return b
	case b == RoleUnknown:
		return a
	case a >= b:
		return a
	default:
		return b
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Permission represents an actionable verb within the API surface.
type Permission string

const (
	PermissionViewSession     Permission = "session:view"
	PermissionViewWorkshops   Permission = "workshops:view"
	PermissionManageWorkshops Permission = "workshops:manage"
	PermissionUploadFlyers    Permission = "flyers:upload"
	PermissionManageRoles     Permission = "roles:manage"
)

// RoleMatrix maps each permission to the least privileged role that holds
// it. Privilege is monotonic, so every more privileged role holds it too.
var RoleMatrix = map[Permission]Role{
	PermissionViewSession:     RoleViewer,
	PermissionViewWorkshops:   RoleContentMaker,
	PermissionManageWorkshops: RoleContentMaker,
	PermissionUploadFlyers:    RoleContentMaker,
	PermissionManageRoles:     RoleSuperAdmin,
}

// Required returns the minimum role for permission. Unmapped permissions
// require super admin.
func Required(permission Permission) Role {
	if role, ok := RoleMatrix[permission]; ok {
		return role
	}
	return RoleSuperAdmin
}
