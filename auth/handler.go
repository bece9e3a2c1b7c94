package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lmda/portal/httpx"
	"github.com/lmda/portal/rbac"
)

// Accounts registers and authenticates identities.
type Accounts interface {
	Create(ctx context.Context, email, fullName, password string) (*Account, error)
	Authenticate(ctx context.Context, email, password string) (*Account, error)
}

// Handler manages sign-up, sign-in and the session lifecycle.
type Handler struct {
	accounts Accounts
	sessions *SessionManager
	enforcer *rbac.Enforcer
	throttle *Throttle
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler constructs an auth handler.
func NewHandler(accounts Accounts, sessions *SessionManager, enforcer *rbac.Enforcer, throttle *Throttle, logger *zap.Logger) *Handler {
	if throttle == nil {
		throttle = NewThrottle(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accounts: accounts,
		sessions: sessions,
		enforcer: enforcer,
		throttle: throttle,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes exposes the auth endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/signup", h.signUp)
	r.Post("/signin", h.signIn)
	r.Get("/session", h.sessionInfo)
	r.Get("/access", h.accessInfo)
	r.Post("/signout", h.signOut)
	return r
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=100"`
	FullName string `json:"full_name" validate:"max=100"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=100"`
}

type sessionResponse struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name,omitempty"`
	Role           rbac.Role `json:"role"`
	IsSuperAdmin   bool      `json:"is_super_admin"`
	IsContentMaker bool      `json:"is_content_maker"`
	Token          string    `json:"token,omitempty"`
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var payload signUpRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	payload.Email = rbac.NormalizeEmail(payload.Email)
	payload.FullName = strings.TrimSpace(payload.FullName)
	if err := h.validate.Struct(payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	account, err := h.accounts.Create(r.Context(), payload.Email, payload.FullName, payload.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			httpx.Error(w, http.StatusConflict, "this email is already registered, please sign in instead")
			return
		}
		h.logger.Error("sign-up failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	h.startSession(w, r, account, http.StatusCreated)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	if !h.throttle.Allow(h.throttle.clientKey(r)) {
		w.Header().Set("Retry-After", "60")
		httpx.Error(w, http.StatusTooManyRequests, "too many sign-in attempts, please wait a minute")
		return
	}

	var payload signInRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	payload.Email = rbac.NormalizeEmail(payload.Email)
	if err := h.validate.Struct(payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.Error(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("sign-in failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	h.startSession(w, r, account, http.StatusOK)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, account *Account, status int) {
	claims := &Claims{UserID: account.ID, Email: account.Email, FullName: account.FullName}

	token, err := h.sessions.Issue(w, claims)
	if err != nil {
		h.logger.Error("session issue failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
	resp := h.describe(r, claims)
	resp.Token = token
	httpx.WriteJSON(w, status, resp)
}

// sessionInfo restores the session: identity plus freshly resolved role.
func (h *Handler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	claims := FromContext(r.Context())
	if claims == nil {
		httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorBody{
			Error:    "authentication required",
			Redirect: rbac.SignInPath,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.describe(r, claims))
}

type accessResponse struct {
	State    rbac.GateState `json:"state"`
	Required rbac.Role      `json:"required"`
	Redirect string         `json:"redirect,omitempty"`
}

// accessInfo evaluates the access gate for a client-side route.
func (h *Handler) accessInfo(w http.ResponseWriter, r *http.Request) {
	required := rbac.RoleViewer
	if value := r.URL.Query().Get("require"); value != "" {
		parsed, err := rbac.ParseRole(value)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "require must be viewer, content_maker or super_admin")
			return
		}
		required = parsed
	}

	state := rbac.Evaluate(h.enforcer.Check(r), required)
	resp := accessResponse{State: state, Required: required}
	switch state {
	case rbac.GateUnauthenticated:
		resp.Redirect = rbac.SignInPath
	case rbac.GateForbidden:
		resp.Redirect = rbac.AdminLandingPath
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) signOut(w http.ResponseWriter, _ *http.Request) {
	h.sessions.Clear(w)
	httpx.WriteNotice(w, http.StatusOK, "signed_out", "you have been signed out")
}

func (h *Handler) describe(r *http.Request, claims *Claims) sessionResponse {
	access := h.enforcer.Check(r).Access
	return sessionResponse{
		UserID:         claims.UserID,
		Email:          claims.Email,
		FullName:       claims.FullName,
		Role:           access.EffectiveRole(),
		IsSuperAdmin:   access.IsSuperAdmin(),
		IsContentMaker: access.IsContentMaker(),
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request payload"
	}

	field := verrs[0]
	switch field.Field() {
	case "Email":
		return "invalid email address"
	case "Password":
		if field.Tag() == "min" {
			return "password must be at least 6 characters"
		}
		return "password must be between 6 and 100 characters"
	case "FullName":
		return "full name must be at most 100 characters"
	default:
		return "invalid request payload"
	}
}
