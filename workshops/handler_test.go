package workshops

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmda/portal/rbac"
)

type memoryRepository struct {
	items  map[string]*Workshop
	nextID int
}

func newMemoryRepository(items ...Workshop) *memoryRepository {
	repo := &memoryRepository{items: map[string]*Workshop{}}
	for i := range items {
		w := items[i]
		repo.items[w.ID] = &w
	}
	return repo
}

func (m *memoryRepository) List(_ context.Context, opts ListOptions) ([]Workshop, error) {
	out := []Workshop{}
	for _, w := range m.items {
		if opts.ActiveOnly && !w.IsActive {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if opts.Ascending {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	return out, nil
}

func (m *memoryRepository) Get(_ context.Context, id string, activeOnly bool) (*Workshop, error) {
	w, ok := m.items[id]
	if !ok || (activeOnly && !w.IsActive) {
		return nil, ErrNotFound
	}
	copied := *w
	return &copied, nil
}

func (m *memoryRepository) Create(_ context.Context, w *Workshop) error {
	m.nextID++
	w.ID = "ws-" + string(rune('0'+m.nextID))
	stored := *w
	m.items[w.ID] = &stored
	return nil
}

func (m *memoryRepository) Update(_ context.Context, id string, w *Workshop) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	w.ID = id
	stored := *w
	m.items[id] = &stored
	return nil
}

func (m *memoryRepository) SetActive(_ context.Context, id string, active bool) (*Workshop, error) {
	w, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	w.IsActive = active
	copied := *w
	return &copied, nil
}

func (m *memoryRepository) Delete(_ context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type staticRoles map[string]rbac.Role

func (s staticRoles) LookupRole(_ context.Context, userID string) (rbac.Role, error) {
	if role, ok := s[userID]; ok {
		return role, nil
	}
	return rbac.RoleViewer, nil
}

func (s staticRoles) Grant(context.Context, string, rbac.Role) (bool, error) { return false, nil }
func (s staticRoles) Downgrade(context.Context, string) error                { return nil }
func (s staticRoles) Assignments(context.Context) (map[string]rbac.Role, error) {
	return map[string]rbac.Role(s), nil
}

func headerIdentity(r *http.Request) *rbac.Identity {
	id := r.Header.Get("X-Test-User")
	if id == "" {
		return nil
	}
	return &rbac.Identity{UserID: id, Email: r.Header.Get("X-Test-Email")}
}

var (
	testNow      = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pastWorkshop = Workshop{
		ID: "past", Title: "Retail Basics", Category: CategorySeries, Status: StatusCompleted,
		ScheduledAt: testNow.AddDate(0, -1, 0), IsActive: true,
	}
	nextWorkshop = Workshop{
		ID: "next", Title: "Sales Leadership", Category: CategoryPaidWorkshop, Status: StatusOpen,
		TrainerName: "Imran Siddiqui", ScheduledAt: testNow.AddDate(0, 0, 10), IsActive: true,
	}
	hiddenWorkshop = Workshop{
		ID: "hidden", Title: "Draft", Category: CategoryFreeWorkshop, Status: StatusUpcoming,
		ScheduledAt: testNow.AddDate(0, 0, 20),
	}
)

type workshopFixture struct {
	repo   *memoryRepository
	router http.Handler
}

func newWorkshopFixture(t *testing.T, flyers *FlyerStore) *workshopFixture {
	t.Helper()
	repo := newMemoryRepository(pastWorkshop, nextWorkshop, hiddenWorkshop)
	roles := staticRoles{"maker": rbac.RoleContentMaker}
	resolver := rbac.NewResolver(roles, rbac.NewAllowList("director@lmda.example"), rbac.DefaultBreakerConfig(), nil, nil)
	enforcer := rbac.NewEnforcer(resolver, headerIdentity, nil, nil)

	handler := NewHandler(repo, flyers, NewNormalizer(time.FixedZone("PKT", 5*60*60)), nil)
	handler.now = func() time.Time { return testNow }

	r := chi.NewRouter()
	r.Mount("/api/workshops", handler.PublicRoutes())
	r.Mount("/api/admin/workshops", handler.AdminRoutes(enforcer))
	return &workshopFixture{repo: repo, router: r}
}

func (f *workshopFixture) do(method, path, user string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Email", user+"@example.com")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PublicSchedule(t *testing.T) {
	t.Run("Should split active workshops into upcoming and past", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/workshops/", "", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var schedule Schedule
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&schedule))
		require.Len(t, schedule.Upcoming, 1)
		assert.Equal(t, "next", schedule.Upcoming[0].ID)
		require.Len(t, schedule.Past, 1)
		assert.Equal(t, "past", schedule.Past[0].ID)
	})
	t.Run("Should include a calendar link on the detail view", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/workshops/next", "", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "Sales Leadership", body["title"])
		assert.Contains(t, body["google_calendar_url"], "calendar.google.com")
	})
	t.Run("Should hide inactive workshops", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/workshops/hidden", "", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "workshop not found")
	})
	t.Run("Should export an ICS attachment", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/workshops/next/calendar.ics", "", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="lmda-workshop-next.ics"`, rec.Header().Get("Content-Disposition"))
		assert.Contains(t, rec.Body.String(), "SUMMARY:Sales Leadership\r\n")
	})
}

func TestHandler_Admin(t *testing.T) {
	t.Run("Should require a session", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/admin/workshops/", "", "")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("Should forbid viewers", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/admin/workshops/", "viewer", "")

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("Should forbid viewers from reading unpublished workshops", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/admin/workshops/hidden", "viewer", "")

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("Should list inactive workshops for content makers", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodGet, "/api/admin/workshops/", "maker", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var items []Workshop
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
		require.Len(t, items, 3)
		assert.Equal(t, "hidden", items[0].ID)
	})
	t.Run("Should create a normalized workshop", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPost, "/api/admin/workshops/", "maker",
			`{"title":"  Key Accounts  ","category":"free_workshop","price":"2500","scheduled_at":"2025-07-01T10:00"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		var created Workshop
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
		assert.Equal(t, "Key Accounts", created.Title)
		assert.True(t, created.Price.IsZero())
		assert.True(t, created.IsActive)
		assert.Equal(t, time.Date(2025, 7, 1, 5, 0, 0, 0, time.UTC), created.ScheduledAt)
		assert.Contains(t, f.repo.items, created.ID)
	})
	t.Run("Should report validation errors", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPost, "/api/admin/workshops/", "maker",
			`{"title":"Key Accounts","category":"webinar","scheduled_at":"2025-07-01T10:00"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "category")
	})
	t.Run("Should update an existing workshop", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPut, "/api/admin/workshops/next", "maker",
			`{"title":"Sales Leadership II","category":"paid_workshop","price":"18000","status":"selling_fast","scheduled_at":"2025-06-11T12:00:00Z"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Sales Leadership II", f.repo.items["next"].Title)
		assert.Equal(t, StatusSellingFast, f.repo.items["next"].Status)
	})
	t.Run("Should keep a hidden workshop hidden when the edit omits visibility", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPut, "/api/admin/workshops/hidden", "maker",
			`{"title":"Draft v2","category":"free_workshop","scheduled_at":"2025-06-21T12:00:00Z"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Draft v2", f.repo.items["hidden"].Title)
		assert.False(t, f.repo.items["hidden"].IsActive)
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/workshops/hidden", "", "").Code)
	})
	t.Run("Should apply an explicit visibility on edit", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPut, "/api/admin/workshops/next", "maker",
			`{"title":"Sales Leadership","category":"paid_workshop","scheduled_at":"2025-06-11T12:00:00Z","is_active":false}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.repo.items["next"].IsActive)
	})
	t.Run("Should return not found when updating a missing workshop", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPut, "/api/admin/workshops/gone", "maker",
			`{"title":"Ghost","category":"series","scheduled_at":"2025-06-11T12:00:00Z"}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("Should toggle visibility", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPost, "/api/admin/workshops/hidden/active", "maker", `{"is_active":true}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, f.repo.items["hidden"].IsActive)
	})
	t.Run("Should require the visibility flag", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodPost, "/api/admin/workshops/hidden/active", "maker", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("Should delete workshops", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)

		rec := f.do(http.MethodDelete, "/api/admin/workshops/past", "maker", "")

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotContains(t, f.repo.items, "past")
	})
	t.Run("Should let the allow-listed director manage workshops", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/workshops/hidden", nil)
		req.Header.Set("X-Test-User", "director")
		req.Header.Set("X-Test-Email", "Director@LMDA.example")
		rec := httptest.NewRecorder()

		f.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func multipartFlyer(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("flyer", "flyer.png")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func TestHandler_UploadFlyer(t *testing.T) {
	upload := func(f *workshopFixture, user string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/workshops/flyers", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Test-User", user)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("Should store an image and return its url", func(t *testing.T) {
		_, flyers := newTestFlyers(0)
		f := newWorkshopFixture(t, flyers)
		body, contentType := multipartFlyer(t, pngHeader)

		rec := upload(f, "maker", body, contentType)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp flyerResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, strings.HasPrefix(resp.URL, "/flyers/1732000000000-"))
	})
	t.Run("Should reject files that are not images", func(t *testing.T) {
		_, flyers := newTestFlyers(0)
		f := newWorkshopFixture(t, flyers)
		body, contentType := multipartFlyer(t, []byte("%PDF-1.7\n"))

		rec := upload(f, "maker", body, contentType)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Contains(t, rec.Body.String(), "please upload an image file")
	})
	t.Run("Should reject oversized images", func(t *testing.T) {
		_, flyers := newTestFlyers(int64(len(pngHeader)))
		f := newWorkshopFixture(t, flyers)
		body, contentType := multipartFlyer(t, append(append([]byte{}, pngHeader...), 0))

		rec := upload(f, "maker", body, contentType)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "image must be less than 29 bytes")
	})
	t.Run("Should require the flyer field", func(t *testing.T) {
		_, flyers := newTestFlyers(0)
		f := newWorkshopFixture(t, flyers)
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		require.NoError(t, writer.WriteField("note", "no file"))
		require.NoError(t, writer.Close())

		rec := upload(f, "maker", &body, writer.FormDataContentType())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("Should forbid viewers", func(t *testing.T) {
		_, flyers := newTestFlyers(0)
		f := newWorkshopFixture(t, flyers)
		body, contentType := multipartFlyer(t, pngHeader)

		rec := upload(f, "viewer", body, contentType)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("Should report uploads as unavailable without storage", func(t *testing.T) {
		f := newWorkshopFixture(t, nil)
		body, contentType := multipartFlyer(t, pngHeader)

		rec := upload(f, "maker", body, contentType)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
