package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lmda/portal/httpx"
	"github.com/lmda/portal/rbac"
)

// Claims represents the authenticated identity embedded within a session
// token. Roles are deliberately absent: they are resolved on every request.
type Claims struct {
	UserID   string `json:"uid"`
	Email    string `json:"email"`
	FullName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the identity reference carried by the claims.
func (c *Claims) Identity() rbac.Identity {
	return rbac.Identity{UserID: c.UserID, Email: c.Email}
}

type contextKey string

const claimsKey contextKey = "authClaims"

// SessionManager encapsulates signing and verifying session tokens that are
// stored as HTTP cookies or bearer tokens.
type SessionManager struct {
	secret     []byte
	cookieName string
	lifetime   time.Duration
	secure     bool
	now        func() time.Time
}

// NewSessionManager constructs a session manager with the provided HMAC
// secret. The secret is required and should be randomly generated for
// production deployments.
func NewSessionManager(secret string, secure bool, lifetime time.Duration) (*SessionManager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("session secret must be configured")
	}
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}

	return &SessionManager{
		secret:     []byte(trimmed),
		cookieName: "lmda_session",
		lifetime:   lifetime,
		secure:     secure,
		now:        time.Now,
	}, nil
}

// Issue creates a session for the supplied claims and writes it to the
// response as a secure, HTTP only cookie. The raw token is returned so that
// API clients can persist it if necessary.
func (m *SessionManager) Issue(w http.ResponseWriter, claims *Claims) (string, error) {
	now := m.now()
	expires := now.Add(m.lifetime)

	payload := *claims
	payload.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &payload).SignedString(m.secret)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	return token, nil
}

// Clear removes the session cookie from the response.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// Middleware attaches claims from the inbound session, if present. Invalid
// tokens are rejected with a 401 response.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.verify(token)
		if err != nil {
			m.Clear(w)
			if errors.Is(err, jwt.ErrTokenExpired) {
				httpx.Error(w, http.StatusUnauthorized, "session expired")
				return
			}
			httpx.Error(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *SessionManager) extractToken(r *http.Request) string {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}

	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}

	return strings.TrimSpace(authz[len("bearer "):])
}

// FromContext retrieves the active session claims, if any.
func FromContext(ctx context.Context) *Claims {
	if ctx == nil {
		return nil
	}
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// IdentityFromRequest adapts the session to the access gate.
func IdentityFromRequest(r *http.Request) *rbac.Identity {
	claims := FromContext(r.Context())
	if claims == nil || claims.UserID == "" {
		return nil
	}
	identity := claims.Identity()
	return &identity
}

func (m *SessionManager) verify(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("session token has no subject")
	}
	return &claims, nil
}
