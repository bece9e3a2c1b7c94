package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Outcome describes how an administration call left the role store.
type Outcome string

const (
	OutcomeAssigned        Outcome = "assigned"
	OutcomeAlreadyAssigned Outcome = "already_assigned"
	OutcomeRevoked         Outcome = "revoked"
)

// Member is a directory profile together with its effective role.
type Member struct {
	Profile
	Role      Role `json:"role"`
	Protected bool `json:"protected"`
}

// Administrator promotes and revokes content makers on behalf of super
// admins. Every operation either fully applies or leaves the store untouched.
type Administrator struct {
	store     RoleStore
	directory Directory
	allow     *AllowList
	validate  *validator.Validate
	logger    *zap.Logger
	metrics   *Metrics
}

// NewAdministrator constructs the role administration service.
func NewAdministrator(store RoleStore, directory Directory, allow *AllowList, logger *zap.Logger, metrics *Metrics) *Administrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allow == nil {
		allow = DefaultAllowList()
	}
	return &Administrator{
		store:     store,
		directory: directory,
		allow:     allow,
		validate:  validator.New(),
		logger:    logger,
		metrics:   metrics,
	}
}

// ValidateEmail checks that email is a well-formed address.
func (a *Administrator) ValidateEmail(email string) error {
	if err := a.validate.Var(email, "required,email,max=255"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// Promote grants the content maker role to the registered identity owning
// email. Promoting an identity that already holds it, or anything above it,
// is a no-op reported as OutcomeAlreadyAssigned.
func (a *Administrator) Promote(ctx context.Context, caller Access, email string) (Outcome, error) {
	if !caller.IsSuperAdmin() {
		a.metrics.observeAdmin("promote", "forbidden")
		return "", ErrForbidden
	}

	normalized := NormalizeEmail(email)
	if err := a.ValidateEmail(normalized); err != nil {
		a.metrics.observeAdmin("promote", "invalid")
		return "", err
	}

	profile, err := a.directory.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			a.metrics.observeAdmin("promote", "not_found")
			return "", ErrUserNotFound
		}
		a.metrics.observeAdmin("promote", "error")
		return "", fmt.Errorf("look up %s: %w", normalized, err)
	}

	if a.allow.Contains(profile.Email) {
		a.metrics.observeAdmin("promote", string(OutcomeAlreadyAssigned))
		return OutcomeAlreadyAssigned, nil
	}

	granted, err := a.store.Grant(ctx, profile.ID, RoleContentMaker)
	if err != nil {
		a.logger.Error("content maker grant failed",
			zap.String("target_id", profile.ID),
			zap.String("actor_id", caller.Identity.UserID),
			zap.Error(err),
		)
		a.metrics.observeAdmin("promote", "error")
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if !granted {
		a.metrics.observeAdmin("promote", string(OutcomeAlreadyAssigned))
		return OutcomeAlreadyAssigned, nil
	}

	a.logger.Info("content maker role assigned",
		zap.String("target_id", profile.ID),
		zap.String("actor_id", caller.Identity.UserID),
	)
	a.metrics.observeAdmin("promote", string(OutcomeAssigned))
	return OutcomeAssigned, nil
}

// Revoke downgrades target to viewer. Allow-listed identities are refused.
func (a *Administrator) Revoke(ctx context.Context, caller Access, target Identity) (Outcome, error) {
	if !caller.IsSuperAdmin() {
		a.metrics.observeAdmin("revoke", "forbidden")
		return "", ErrForbidden
	}
	if a.allow.Contains(target.Email) {
		a.metrics.observeAdmin("revoke", "protected")
		return "", ErrProtectedAccount
	}
	if target.UserID == "" {
		a.metrics.observeAdmin("revoke", "not_found")
		return "", ErrUserNotFound
	}

	if err := a.store.Downgrade(ctx, target.UserID); err != nil {
		a.logger.Error("role downgrade failed",
			zap.String("target_id", target.UserID),
			zap.String("actor_id", caller.Identity.UserID),
			zap.Error(err),
		)
		a.metrics.observeAdmin("revoke", "error")
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	a.logger.Info("role revoked",
		zap.String("target_id", target.UserID),
		zap.String("actor_id", caller.Identity.UserID),
	)
	a.metrics.observeAdmin("revoke", string(OutcomeRevoked))
	return OutcomeRevoked, nil
}

// ListMembers returns every registered profile with its effective role.
func (a *Administrator) ListMembers(ctx context.Context, caller Access) ([]Member, error) {
	if !caller.IsSuperAdmin() {
		return nil, ErrForbidden
	}

	profiles, err := a.directory.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	assignments, err := a.store.Assignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}

	members := make([]Member, 0, len(profiles))
	for _, profile := range profiles {
		role, ok := assignments[profile.ID]
		if !ok {
			role = RoleViewer
		}
		protected := a.allow.Contains(profile.Email)
		if protected {
			role = RoleSuperAdmin
		}
		members = append(members, Member{Profile: profile, Role: role, Protected: protected})
	}
	return members, nil
}
