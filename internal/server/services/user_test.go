package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
	"github.com/dmitrijs2005/chatauth/internal/server/config"
	"github.com/dmitrijs2005/chatauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// --- helpers ---

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.PasswordHashCost = 4
	cfg.RefreshHashMemoryKB = 64
	cfg.RefreshHashIterations = 1
	return cfg
}

func newService(t *testing.T, db *sql.DB, cfg *config.Config) (*UserService, *fakeRepoManager) {
	t.Helper()
	key, err := auth.NewHMACKey(cfg.JWTAlg, []byte(cfg.JWTSecret))
	require.NoError(t, err)

	rm := &fakeRepoManager{u: newFakeUsers(), r: newFakeTokens()}
	s, err := NewUserService(db, rm, auth.NewAuthority(key, cfg.AccessTokenTTL), cfg, logging.Nop())
	require.NoError(t, err)
	return s, rm
}

func newTestService(t *testing.T) (*UserService, *fakeRepoManager) {
	return newService(t, openTestDB(t), testConfig())
}

func registerAndLogin(t *testing.T, s *UserService) (*models.User, *TokenPair) {
	t.Helper()
	ctx := context.Background()
	u, err := s.Register(ctx, "alice", "password123")
	require.NoError(t, err)
	pair, err := s.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	return u, pair
}

// --- credential store ---

func TestRegisterAndLogin(t *testing.T) {
	s, rm := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "Alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.UserName)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "password123", rm.u.byID[u.ID].PasswordHash)

	pair, err := s.Login(ctx, "ALICE", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	require.NoError(t, s.VerifyAccess(ctx, u.ID, pair.AccessToken))
}

func TestRegister_UsernameTaken(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = s.Register(ctx, "ALICE", "pw")
	assert.ErrorIs(t, err, common.ErrUsernameTaken)
}

func TestRegister_CaseSensitivePolicy(t *testing.T) {
	cfg := testConfig()
	cfg.UsernameCaseSensitive = true
	s, _ := newService(t, openTestDB(t), cfg)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = s.Register(ctx, "Alice", "pw")
	require.NoError(t, err)

	_, err = s.Login(ctx, "ALICE", "pw")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestRegister_InvalidInput(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name, username, password string
	}{
		{"empty username", "", "pw"},
		{"empty password", "bob", ""},
		{"long username", strings.Repeat("b", maxUsernameLen+1), "pw"},
		{"long password", "bob", strings.Repeat("p", maxPasswordLen+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestRegister_RepoError(t *testing.T) {
	s, rm := newTestService(t)
	rm.u.createErr = errors.New("db error: boom")

	_, err := s.Register(context.Background(), "bob", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error creating user")
}

func TestVerifyLogin_Failures(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u, _ := registerAndLogin(t, s)

	_, err := s.VerifyLogin(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = s.VerifyLogin(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	require.NoError(t, s.SetActive(ctx, u.ID, false))

	_, err = s.VerifyLogin(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials, "inactive is only revealed with the right password")

	_, err = s.VerifyLogin(ctx, "alice", "password123")
	assert.ErrorIs(t, err, common.ErrUserInactive)
}

func TestVerifyLogin_RepoError(t *testing.T) {
	s, rm := newTestService(t)
	rm.u.getErr = errors.New("down")

	_, err := s.VerifyLogin(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrInvalidCredentials)
}

// --- rotation ---

func TestRefresh_AliceScenario(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	p2, err := s.Refresh(ctx, u.ID, p1.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, p1.RefreshToken, p2.RefreshToken)
	require.NoError(t, s.VerifyAccess(ctx, u.ID, p2.AccessToken))

	_, err = s.Refresh(ctx, u.ID, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
}

func TestRefresh_ReplayRevokesLineage(t *testing.T) {
	s, rm := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	p2, err := s.Refresh(ctx, u.ID, p1.RefreshToken)
	require.NoError(t, err)
	p3, err := s.Refresh(ctx, u.ID, p2.RefreshToken)
	require.NoError(t, err)

	_, err = s.Refresh(ctx, u.ID, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)

	assert.Empty(t, rm.r.live(time.Now()), "whole lineage revoked")
	_, err = s.Refresh(ctx, u.ID, p3.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
}

func TestRefresh_ReplayLeavesOtherLineages(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	other, err := s.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	_, err = s.Refresh(ctx, u.ID, p1.RefreshToken)
	require.NoError(t, err)
	_, err = s.Refresh(ctx, u.ID, p1.RefreshToken)
	require.ErrorIs(t, err, common.ErrRefreshTokenReused)

	_, err = s.Refresh(ctx, u.ID, other.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_ReuseScanDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshReuseScanLimit = 0
	s, rm := newService(t, openTestDB(t), cfg)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	_, err := s.Refresh(ctx, u.ID, p1.RefreshToken)
	require.NoError(t, err)

	_, err = s.Refresh(ctx, u.ID, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
	assert.NotErrorIs(t, err, common.ErrRefreshTokenReused)
	assert.Len(t, rm.r.live(time.Now()), 1)
}

func TestRefresh_ManyRotationsLeaveOneLiveRow(t *testing.T) {
	s, rm := newTestService(t)
	ctx := context.Background()
	u, pair := registerAndLogin(t, s)

	var err error
	for i := 0; i < 5; i++ {
		pair, err = s.Refresh(ctx, u.ID, pair.RefreshToken)
		require.NoError(t, err)
	}

	live := rm.r.live(time.Now())
	require.Len(t, live, 1)
	require.NotNil(t, live[0].ParentID)
	parent := rm.r.get(*live[0].ParentID)
	assert.True(t, parent.Revoked)
}

func TestRefresh_ConcurrentDoubleSubmit(t *testing.T) {
	s, rm := newTestService(t)
	u, p1 := registerAndLogin(t, s)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Refresh(context.Background(), u.ID, p1.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
	}
	assert.LessOrEqual(t, len(rm.r.live(time.Now())), 1)
}

func TestRefresh_RejectsWrongUserExpiredAndEmpty(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	_, err := s.Refresh(ctx, "someone-else", p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)

	_, err = s.Refresh(ctx, u.ID, "")
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)

	s.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = s.Refresh(ctx, u.ID, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
}

func TestRefresh_IntegrityFault(t *testing.T) {
	s, rm := newTestService(t)
	ctx := context.Background()

	hash, err := s.refreshes.Hash("dup-secret")
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour)
	rm.r.insertRaw(models.RefreshToken{ID: "a", UserID: "u1", TokenHash: hash, ExpiresAt: exp})
	rm.r.insertRaw(models.RefreshToken{ID: "b", UserID: "u1", TokenHash: hash, ExpiresAt: exp})

	_, err = s.Refresh(ctx, "u1", "dup-secret")
	assert.ErrorIs(t, err, common.ErrIntegrityFault)
	assert.Len(t, rm.r.live(time.Now()), 2, "nothing mutated")

	assert.ErrorIs(t, s.Logout(ctx, "u1", "dup-secret"), common.ErrIntegrityFault)
}

func TestRefresh_ChildCreateFailsRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, rm := newService(t, db, testConfig())
	ctx := context.Background()

	hash, err := s.refreshes.Hash("secret")
	require.NoError(t, err)
	rm.r.insertRaw(models.RefreshToken{ID: "a", UserID: "u1", TokenHash: hash, ExpiresAt: time.Now().Add(time.Hour)})
	rm.r.createErr = errors.New("insert failed")

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = s.Refresh(ctx, "u1", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error storing refresh token")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_LostRaceRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, rm := newService(t, db, testConfig())
	hash, err := s.refreshes.Hash("secret")
	require.NoError(t, err)
	rm.r.insertRaw(models.RefreshToken{ID: "a", UserID: "u1", TokenHash: hash, ExpiresAt: time.Now().Add(time.Hour)})
	rm.r.revokeLoses = true

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = s.Refresh(context.Background(), "u1", "secret")
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)
	require.NoError(t, mock.ExpectationsWereMet())
}

// --- logout ---

func TestLogout(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	require.NoError(t, s.Logout(ctx, u.ID, p1.RefreshToken))
	assert.ErrorIs(t, s.Logout(ctx, u.ID, p1.RefreshToken), common.ErrInvalidOrExpiredRefresh)

	_, err := s.Refresh(ctx, u.ID, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)

	assert.ErrorIs(t, s.Logout(ctx, "", "x"), common.ErrInvalidOrExpiredRefresh)
}

// --- verify access ---

func TestVerifyAccess(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	require.NoError(t, s.VerifyAccess(ctx, u.ID, p1.AccessToken))
	assert.ErrorIs(t, s.VerifyAccess(ctx, "other", p1.AccessToken), common.ErrSubjectMismatch)
	assert.ErrorIs(t, s.VerifyAccess(ctx, u.ID, "garbage"), common.ErrInvalidToken)
	assert.ErrorIs(t, s.VerifyAccess(ctx, u.ID, p1.RefreshToken), common.ErrInvalidToken)

	ghost, err := s.tokens.IssueAccess("ghost")
	require.NoError(t, err)
	assert.ErrorIs(t, s.VerifyAccess(ctx, "ghost", ghost), common.ErrorNotFound)
}

// --- lifecycle ---

func TestSetActive_DeactivationRevokesSessions(t *testing.T) {
	s, rm := newTestService(t)
	ctx := context.Background()
	u, p1 := registerAndLogin(t, s)

	require.NoError(t, s.SetActive(ctx, u.ID, false))
	assert.Empty(t, rm.r.live(time.Now()))

	_, err := s.Refresh(ctx, u.ID, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredRefresh)

	require.NoError(t, s.SetActive(ctx, u.ID, true))
	_, err = s.Login(ctx, "alice", "password123")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.SetActive(ctx, "missing", true), common.ErrorNotFound)
}

func TestGetUser(t *testing.T) {
	s, _ := newTestService(t)
	u, _ := registerAndLogin(t, s)

	got, err := s.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserName)

	_, err = s.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
