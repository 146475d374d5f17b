package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/dbx"
	"github.com/dmitrijs2005/chatauth/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/chatauth/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/chatauth/internal/server/repositories/users"
)

// fakeUsers is an in-memory users repository keyed by id.
type fakeUsers struct {
	mu        sync.Mutex
	byID      map[string]*models.User
	createErr error
	getErr    error
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[string]*models.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if existing.UserName == u.UserName {
			return nil, common.ErrUsernameTaken
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	f.byID[u.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeUsers) GetUserByLogin(_ context.Context, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.UserName == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.IsActive = active
	return nil
}

// fakeTokens is an in-memory refresh token store whose Revoke is a real
// compare-and-swap under a mutex.
type fakeTokens struct {
	mu        sync.Mutex
	rows      map[string]*models.RefreshToken
	seq       int
	createErr error

	// revokeLoses makes Revoke behave as if another caller won the CAS.
	revokeLoses bool
}

func newFakeTokens() *fakeTokens { return &fakeTokens{rows: map[string]*models.RefreshToken{}} }

func (f *fakeTokens) Create(_ context.Context, t *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.seq++
	cp := *t
	cp.CreatedAt = time.Unix(int64(f.seq), 0)
	f.rows[t.ID] = &cp
	t.CreatedAt = cp.CreatedAt
	return nil
}

func (f *fakeTokens) sorted(filter func(*models.RefreshToken) bool) []*models.RefreshToken {
	var out []*models.RefreshToken
	for _, r := range f.rows {
		if filter(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeTokens) hasChild(id string) bool {
	for _, r := range f.rows {
		if r.ParentID != nil && *r.ParentID == id {
			return true
		}
	}
	return false
}

func (f *fakeTokens) ListActive(_ context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(r *models.RefreshToken) bool {
		return r.UserID == userID && r.Live(now)
	}), nil
}

func (f *fakeTokens) ListRotated(_ context.Context, userID string, now time.Time, limit int) ([]*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted(func(r *models.RefreshToken) bool {
		return r.UserID == userID && r.Revoked && r.ExpiresAt.After(now) && f.hasChild(r.ID)
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTokens) Revoke(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || !r.Live(now) || f.revokeLoses {
		return false, nil
	}
	r.Revoked = true
	return true, nil
}

func (f *fakeTokens) RevokeDescendants(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	frontier := []string{id}
	for len(frontier) > 0 {
		parent := frontier[0]
		frontier = frontier[1:]
		for _, r := range f.rows {
			if r.ParentID != nil && *r.ParentID == parent {
				if !r.Revoked {
					r.Revoked = true
					n++
				}
				frontier = append(frontier, r.ID)
			}
		}
	}
	return n, nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.UserID == userID && !r.Revoked {
			r.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) live(now time.Time) []*models.RefreshToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(r *models.RefreshToken) bool { return r.Live(now) })
}

func (f *fakeTokens) get(id string) models.RefreshToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

// insertRaw stores a row directly, bypassing the service.
func (f *fakeTokens) insertRaw(t models.RefreshToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t.CreatedAt = time.Unix(int64(f.seq), 0)
	f.rows[t.ID] = &t
}

type fakeRepoManager struct {
	u *fakeUsers
	r *fakeTokens
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }
