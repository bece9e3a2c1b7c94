package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker placed in front of the role store.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures uint32
}

// DefaultBreakerConfig mirrors the values used when nothing is configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		MaxFailures: 5,
	}
}

// Resolver computes the effective role of an identity. It never fails: store
// errors are logged and resolved toward the least privilege, except for
// allow-listed addresses which always resolve to RoleSuperAdmin.
type Resolver struct {
	store   RoleStore
	allow   *AllowList
	breaker *gobreaker.CircuitBreaker[Role]
	logger  *zap.Logger
	metrics *Metrics
}

// NewResolver constructs a resolver. logger and metrics may be nil.
func NewResolver(store RoleStore, allow *AllowList, cfg BreakerConfig, logger *zap.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allow == nil {
		allow = DefaultAllowList()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}

	breaker := gobreaker.NewCircuitBreaker[Role](gobreaker.Settings{
		Name:        "role-store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("role store breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Resolver{
		store:   store,
		allow:   allow,
		breaker: breaker,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve determines the role for identity.
func (r *Resolver) Resolve(ctx context.Context, identity Identity) Access {
	access := Access{Identity: identity, Role: RoleUnknown, Source: SourceNone, allow: r.allow}

	if r.allow.Contains(identity.Email) {
		access.Role = RoleSuperAdmin
		access.Source = SourceAllowList
		r.metrics.observeResolution(access.Source)
		return access
	}

	if identity.UserID == "" || r.store == nil {
		r.metrics.observeResolution(access.Source)
		return access
	}

	role, err := r.breaker.Execute(func() (Role, error) {
		return r.store.LookupRole(ctx, identity.UserID)
	})
	if err != nil {
		r.logger.Warn("role lookup failed, falling back to allow-list",
			zap.String("user_id", identity.UserID),
			zap.Error(err),
		)
		access.Source = SourceFallback
		if r.allow.Contains(identity.Email) {
			access.Role = RoleSuperAdmin
		}
		r.metrics.observeResolution(access.Source)
		return access
	}

	access.Role = role
	access.Source = SourceStore
	r.metrics.observeResolution(access.Source)
	return access
}
