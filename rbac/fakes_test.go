package rbac

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memoryStore keeps user_roles rows in memory with the same keying as the
// Postgres table: one row per (user, role).
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]map[Role]struct{}
	err     error
	lookups int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]map[Role]struct{}{}}
}

func (s *memoryStore) set(userID string, roles ...Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[Role]struct{}{}
	for _, role := range roles {
		set[role] = struct{}{}
	}
	s.rows[userID] = set
}

func (s *memoryStore) rowCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[userID])
}

func (s *memoryStore) LookupRole(_ context.Context, userID string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return RoleUnknown, s.err
	}
	roles, ok := s.rows[userID]
	if !ok || len(roles) == 0 {
		return RoleViewer, nil
	}
	return highest(roles), nil
}

func (s *memoryStore) Grant(_ context.Context, userID string, role Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	current := s.rows[userID]
	if len(current) > 0 && highest(current).AtLeast(role) {
		return false, nil
	}
	if current == nil {
		current = map[Role]struct{}{}
		s.rows[userID] = current
	}
	delete(current, RoleViewer)
	current[role] = struct{}{}
	return true, nil
}

func (s *memoryStore) Downgrade(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows[userID] = map[Role]struct{}{RoleViewer: {}}
	return nil
}

func (s *memoryStore) Assignments(_ context.Context) (map[string]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]Role, len(s.rows))
	for userID, roles := range s.rows {
		if len(roles) > 0 {
			out[userID] = highest(roles)
		}
	}
	return out, nil
}

type memoryDirectory struct {
	profiles []Profile
	err      error
}

func (d *memoryDirectory) add(id, email string) Profile {
	p := Profile{ID: id, Email: NormalizeEmail(email), CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	d.profiles = append(d.profiles, p)
	return p
}

func (d *memoryDirectory) FindByEmail(_ context.Context, email string) (*Profile, error) {
	if d.err != nil {
		return nil, d.err
	}
	for i := range d.profiles {
		if d.profiles[i].Email == NormalizeEmail(email) {
			p := d.profiles[i]
			return &p, nil
		}
	}
	return nil, ErrUserNotFound
}

func (d *memoryDirectory) FindByID(_ context.Context, id string) (*Profile, error) {
	if d.err != nil {
		return nil, d.err
	}
	for i := range d.profiles {
		if d.profiles[i].ID == id {
			p := d.profiles[i]
			return &p, nil
		}
	}
	return nil, ErrUserNotFound
}

func (d *memoryDirectory) ListProfiles(_ context.Context) ([]Profile, error) {
	if d.err != nil {
		return nil, d.err
	}
	return append([]Profile(nil), d.profiles...), nil
}

var errStoreDown = errors.New("connection refused")

const (
	testAdminEmail = "director@lmda.example"
	testAdminID    = "00000000-0000-0000-0000-000000000001"
	testMakerID    = "00000000-0000-0000-0000-000000000002"
	testViewerID   = "00000000-0000-0000-0000-000000000003"
)

func testAllowList() *AllowList {
	return NewAllowList(testAdminEmail)
}
