package rbac

import "strings"

// SuperAdminEmails always resolve to RoleSuperAdmin, even when the role store
// is unreachable. Changing the list requires a new build.
var SuperAdminEmails = []string{
	"director@lmda.example",
}

// AllowList is a fixed set of normalized email addresses.
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList builds an allow-list from the supplied addresses.
func NewAllowList(emails ...string) *AllowList {
	set := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if normalized := NormalizeEmail(email); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return &AllowList{emails: set}
}

// DefaultAllowList returns the compiled-in allow-list.
func DefaultAllowList() *AllowList {
	return NewAllowList(SuperAdminEmails...)
}

// Contains reports whether email is allow-listed. A nil list and an empty
// email never match.
func (a *AllowList) Contains(email string) bool {
	if a == nil {
		return false
	}
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return false
	}
	_, ok := a.emails[normalized]
	return ok
}

// Len returns the number of allow-listed addresses.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.emails)
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
