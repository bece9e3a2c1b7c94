package rbac

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lmda/portal/httpx"
)

// Handler exposes role administration endpoints.
type Handler struct {
	admin     *Administrator
	directory Directory
}

// NewHandler creates an RBAC handler.
func NewHandler(admin *Administrator, directory Directory) *Handler {
	return &Handler{admin: admin, directory: directory}
}

// Routes registers role administration routes. Every route requires super
// admin access; the service repeats the check.
func (h *Handler) Routes(enforcer *Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Use(enforcer.Authorize(PermissionManageRoles))
	r.Get("/members", h.listMembers)
	r.Post("/content-makers", h.promote)
	r.Post("/members/{userID}/revoke", h.revoke)
	return r
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	caller, _ := AccessFromContext(r.Context())

	members, err := h.admin.ListMembers(r.Context(), caller)
	if err != nil {
		writeAdminError(w, err, "failed to fetch users")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}

	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	caller, _ := AccessFromContext(r.Context())
	email := strings.TrimSpace(payload.Email)

	outcome, err := h.admin.Promote(r.Context(), caller, email)
	if err != nil {
		writeAdminError(w, err, "failed to assign role, please try again")
		return
	}

	if outcome == OutcomeAlreadyAssigned {
		httpx.WriteNotice(w, http.StatusOK, string(outcome), "this user already has content maker access")
		return
	}
	httpx.WriteNotice(w, http.StatusOK, string(outcome), "content maker role assigned to "+NormalizeEmail(email))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	profile, err := h.directory.FindByID(r.Context(), userID)
	if err != nil {
		writeAdminError(w, err, "failed to load user")
		return
	}

	caller, _ := AccessFromContext(r.Context())
	outcome, err := h.admin.Revoke(r.Context(), caller, profile.Identity())
	if err != nil {
		writeAdminError(w, err, "failed to revoke role")
		return
	}

	httpx.WriteNotice(w, http.StatusOK, string(outcome), profile.Email+" is now a viewer")
}

func writeAdminError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		httpx.Error(w, http.StatusBadRequest, "invalid email address")
	case errors.Is(err, ErrUserNotFound):
		httpx.Error(w, http.StatusNotFound, "this email is not registered, ask them to sign up first")
	case errors.Is(err, ErrForbidden):
		httpx.Error(w, http.StatusForbidden, "super admin access required")
	case errors.Is(err, ErrProtectedAccount):
		httpx.Error(w, http.StatusForbidden, "cannot revoke access from the super admin")
	case errors.Is(err, ErrWriteFailed):
		httpx.Error(w, http.StatusBadGateway, fallback)
	default:
		httpx.Error(w, http.StatusInternalServerError, fallback)
	}
}
