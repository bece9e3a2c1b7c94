package workshops

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lmda/portal/httpx"
	"github.com/lmda/portal/rbac"
)

// Handler serves the public calendar and the back-office workshop APIs.
type Handler struct {
	repo       Repository
	flyers     *FlyerStore
	normalizer *Normalizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler creates a workshops handler. flyers may be nil when uploads are
// disabled.
func NewHandler(repo Repository, flyers *FlyerStore, normalizer *Normalizer, logger *zap.Logger) *Handler {
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, flyers: flyers, normalizer: normalizer, logger: logger, now: time.Now}
}

// PublicRoutes exposes active workshops to anonymous visitors.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listSchedule)
	r.Get("/{workshopID}", h.getPublic)
	r.Get("/{workshopID}/calendar.ics", h.exportCalendar)
	return r
}

// AdminRoutes exposes workshop management to content makers.
func (h *Handler) AdminRoutes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(enforcer.Authorize(rbac.PermissionViewWorkshops))
		r.Get("/", h.listAll)
		r.Get("/{workshopID}", h.getAny)
	})
	r.Group(func(r chi.Router) {
		r.Use(enforcer.Authorize(rbac.PermissionManageWorkshops))
		r.Post("/", h.create)
		r.Put("/{workshopID}", h.update)
		r.Post("/{workshopID}/active", h.setActive)
		r.Delete("/{workshopID}", h.delete)
	})
	r.With(enforcer.Authorize(rbac.PermissionUploadFlyers)).Post("/flyers", h.uploadFlyer)
	return r
}

func (h *Handler) listSchedule(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.List(r.Context(), ListOptions{ActiveOnly: true, Ascending: true})
	if err != nil {
		h.logger.Error("list workshops failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to list workshops")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, SplitByDate(items, h.now()))
}

type publicWorkshop struct {
	Workshop
	GoogleCalendarURL string `json:"google_calendar_url"`
}

func (h *Handler) getPublic(w http.ResponseWriter, r *http.Request) {
	workshop, ok := h.load(w, r, true)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, publicWorkshop{Workshop: *workshop, GoogleCalendarURL: GoogleCalendarURL(*workshop)})
}

func (h *Handler) exportCalendar(w http.ResponseWriter, r *http.Request) {
	workshop, ok := h.load(w, r, true)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ICSFilename(*workshop)+`"`)
	w.WriteHeader(http.StatusOK)
	if err := WriteICS(w, *workshop, h.now()); err != nil {
		h.logger.Warn("write calendar failed", zap.String("workshop_id", workshop.ID), zap.Error(err))
	}
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.List(r.Context(), ListOptions{})
	if err != nil {
		h.logger.Error("list workshops failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to list workshops")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) getAny(w http.ResponseWriter, r *http.Request) {
	workshop, ok := h.load(w, r, false)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workshop)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	workshop, _, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.repo.Create(r.Context(), workshop); err != nil {
		h.logger.Error("create workshop failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to create workshop")
		return
	}

	access, _ := rbac.AccessFromContext(r.Context())
	h.logger.Info("workshop created",
		zap.String("workshop_id", workshop.ID),
		zap.String("by", access.Identity.UserID),
	)
	httpx.WriteJSON(w, http.StatusCreated, workshop)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	workshop, in, ok := h.decode(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "workshopID")
	if in.IsActive == nil {
		existing, err := h.repo.Get(r.Context(), id, false)
		if err != nil {
			h.writeRepoError(w, "load workshop", err)
			return
		}
		workshop.IsActive = existing.IsActive
	}
	if err := h.repo.Update(r.Context(), id, workshop); err != nil {
		h.writeRepoError(w, "update workshop", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workshop)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IsActive *bool `json:"is_active"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if payload.IsActive == nil {
		httpx.Error(w, http.StatusBadRequest, "is_active is required")
		return
	}

	workshop, err := h.repo.SetActive(r.Context(), chi.URLParam(r, "workshopID"), *payload.IsActive)
	if err != nil {
		h.writeRepoError(w, "toggle workshop", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workshop)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workshopID")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.writeRepoError(w, "delete workshop", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flyerResponse struct {
	URL string `json:"url"`
}

func (h *Handler) uploadFlyer(w http.ResponseWriter, r *http.Request) {
	if h.flyers == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "flyer uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.flyers.MaxBytes()+(1<<20))
	file, _, err := r.FormFile("flyer")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Error(w, http.StatusRequestEntityTooLarge, "image must be less than "+h.flyers.LimitLabel())
			return
		}
		httpx.Error(w, http.StatusBadRequest, "flyer file is required")
		return
	}
	defer file.Close()

	url, err := h.flyers.Save(file)
	switch {
	case errors.Is(err, ErrFlyerTooLarge):
		httpx.Error(w, http.StatusRequestEntityTooLarge, "image must be less than "+h.flyers.LimitLabel())
	case errors.Is(err, ErrInvalidFlyer):
		httpx.Error(w, http.StatusUnsupportedMediaType, "please upload an image file")
	case err != nil:
		h.logger.Error("store flyer failed", zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed to upload flyer")
	default:
		httpx.WriteJSON(w, http.StatusCreated, flyerResponse{URL: url})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*Workshop, Input, bool) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return nil, in, false
	}
	workshop, err := h.normalizer.Normalize(in)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return nil, in, false
	}
	return workshop, in, true
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, activeOnly bool) (*Workshop, bool) {
	workshop, err := h.repo.Get(r.Context(), chi.URLParam(r, "workshopID"), activeOnly)
	if err != nil {
		h.writeRepoError(w, "load workshop", err)
		return nil, false
	}
	return workshop, true
}

func (h *Handler) writeRepoError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "workshop not found")
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	httpx.Error(w, http.StatusInternalServerError, "failed to "+op)
}
