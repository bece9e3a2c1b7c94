package rbac

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrForbidden        = errors.New("super admin access required")
	ErrProtectedAccount = errors.New("account is protected by the super admin allow-list")
	ErrWriteFailed      = errors.New("role assignment write failed")
)
