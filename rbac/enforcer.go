package rbac

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/lmda/portal/httpx"
)

const (
	// SignInPath is where unauthenticated navigations are sent.
	SignInPath = "/auth"
	// AdminLandingPath is the nearest view every signed-in identity may see.
	AdminLandingPath = "/admin"
)

// IdentityFunc extracts the signed-in identity from a request, or nil.
type IdentityFunc func(r *http.Request) *Identity

type contextKey string

const accessKey contextKey = "rbacAccess"

// Enforcer is the access gate in front of protected handlers.
type Enforcer struct {
	resolver *Resolver
	identify IdentityFunc
	logger   *zap.Logger
	metrics  *Metrics
}

// NewEnforcer constructs an access gate backed by resolver.
func NewEnforcer(resolver *Resolver, identify IdentityFunc, logger *zap.Logger, metrics *Metrics) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{resolver: resolver, identify: identify, logger: logger, metrics: metrics}
}

// Authorize guards a handler with the minimum role mapped to permission.
func (e *Enforcer) Authorize(permission Permission) func(http.Handler) http.Handler {
	return e.Require(Required(permission))
}

// Require guards a handler so that it only runs for identities whose
// resolved access satisfies required.
func (e *Enforcer) Require(required Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			input := e.Check(r)
			state := Evaluate(input, required)
			e.metrics.observeDecision(state)

			switch state {
			case GateAuthorized:
				ctx := WithAccess(r.Context(), input.Access)
				next.ServeHTTP(w, r.WithContext(ctx))
			case GateUnauthenticated:
				deny(w, r, http.StatusUnauthorized, "authentication required", SignInPath)
			case GateForbidden:
				e.logger.Info("access denied",
					zap.String("user_id", input.Access.Identity.UserID),
					zap.String("role", input.Access.EffectiveRole().String()),
					zap.String("required", required.String()),
					zap.String("path", r.URL.Path),
				)
				deny(w, r, http.StatusForbidden, "insufficient role", AdminLandingPath)
			default:
				w.Header().Set("Retry-After", "1")
				httpx.Error(w, http.StatusServiceUnavailable, "access resolution pending")
			}
		})
	}
}

// Check resolves the request's identity without deciding anything. The
// input is left unresolved when the request ended before resolution did.
func (e *Enforcer) Check(r *http.Request) GateInput {
	identity := e.identify(r)
	if identity == nil || identity.UserID == "" {
		return GateInput{Resolved: r.Context().Err() == nil}
	}

	access := e.resolver.Resolve(r.Context(), *identity)
	return GateInput{
		Resolved: r.Context().Err() == nil,
		Identity: identity,
		Access:   access,
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int, message, redirect string) {
	if httpx.WantsHTML(r) {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	httpx.WriteJSON(w, status, httpx.ErrorBody{Error: message, Redirect: redirect})
}

// WithAccess stores resolved access in ctx.
func WithAccess(ctx context.Context, access Access) context.Context {
	return context.WithValue(ctx, accessKey, access)
}

// AccessFromContext returns the access stored by the gate.
func AccessFromContext(ctx context.Context) (Access, bool) {
	if ctx == nil {
		return Access{}, false
	}
	access, ok := ctx.Value(accessKey).(Access)
	return access, ok
}
