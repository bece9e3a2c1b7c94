package rbac

import (
	"context"
	"time"
)

// RoleStore persists role assignments.
type RoleStore interface {
	// LookupRole returns the highest-privilege role recorded for userID.
	// A missing row yields RoleViewer and a nil error.
	LookupRole(ctx context.Context, userID string) (Role, error)
	// Grant records role for userID. It reports false when the identity
	// already held role or something more privileged.
	Grant(ctx context.Context, userID string, role Role) (bool, error)
	// Downgrade sets the identity's assignment to RoleViewer, keeping the row.
	Downgrade(ctx context.Context, userID string) error
	// Assignments returns the highest recorded role per user id.
	Assignments(ctx context.Context) (map[string]Role, error)
}

// Profile is a user directory entry.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity returns the profile's identity reference.
func (p Profile) Identity() Identity {
	return Identity{UserID: p.ID, Email: p.Email}
}

// Directory looks up registered identities.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	FindByID(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
}
