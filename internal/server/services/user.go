// Package services contains server-side business logic. This file implements
// UserService: the credential store, access/refresh issuance, refresh-token
// rotation with reuse detection, and access-token verification for peers.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/dbx"
	"github.com/dmitrijs2005/chatauth/internal/hashx"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
	"github.com/dmitrijs2005/chatauth/internal/server/config"
	"github.com/dmitrijs2005/chatauth/internal/server/models"
	"github.com/dmitrijs2005/chatauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	maxUsernameLen = 64
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserService provides authentication-related operations.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.Authority
	logger      logging.Logger

	passwords hashx.Hasher
	refreshes hashx.Hasher
	dummyHash string

	refreshTTL     time.Duration
	refreshBytes   int
	reuseScanLimit int
	caseSensitive  bool

	now func() time.Time
}

// NewUserService constructs a UserService from repositories, the token
// authority and server config. It precomputes a dummy password hash so that
// logins for unknown usernames cost the same as for known ones.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.Authority, cfg *config.Config, logger logging.Logger) (*UserService, error) {
	passwords, err := hashx.NewBcrypt(cfg.PasswordHashCost)
	if err != nil {
		return nil, err
	}
	seed, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}
	dummy, err := passwords.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("compute dummy hash: %w", err)
	}

	return &UserService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		logger:      logger.With("component", "users"),
		passwords:   passwords,
		refreshes: hashx.NewArgon2id(hashx.Argon2Params{
			Memory:      cfg.RefreshHashMemoryKB,
			Iterations:  cfg.RefreshHashIterations,
			Parallelism: 1,
		}),
		dummyHash:      dummy,
		refreshTTL:     cfg.RefreshTokenTTL,
		refreshBytes:   cfg.RefreshTokenBytes,
		reuseScanLimit: cfg.RefreshReuseScanLimit,
		caseSensitive:  cfg.UsernameCaseSensitive,
		now:            time.Now,
	}, nil
}

func (s *UserService) normalize(username string) string {
	if s.caseSensitive {
		return username
	}
	return strings.ToLower(username)
}

// Register creates an active user. Errors: common.ErrInvalidInput,
// common.ErrUsernameTaken.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = s.normalize(username)
	if username == "" || len(username) > maxUsernameLen || password == "" || len(password) > maxPasswordLen {
		return nil, common.ErrInvalidInput
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{ID: uuid.NewString(), UserName: username, PasswordHash: hash, IsActive: true}
	u, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrUsernameTaken) {
			return nil, common.ErrUsernameTaken
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// VerifyLogin checks a username/password pair. Unknown usernames and wrong
// passwords both yield common.ErrInvalidCredentials after comparable work;
// a correct password on a deactivated account yields common.ErrUserInactive.
func (s *UserService) VerifyLogin(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, s.normalize(username))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = s.passwords.Verify(password, s.dummyHash)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	ok, err := s.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash is unreadable", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, common.ErrUserInactive
	}
	return user, nil
}

// Login verifies credentials and, on success, starts a new refresh lineage.
func (s *UserService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.VerifyLogin(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.IssueTokenPair(ctx, user.ID)
}

// IssueTokenPair mints an access token and a root refresh token for userID.
func (s *UserService) IssueTokenPair(ctx context.Context, userID string) (*TokenPair, error) {
	secret, _, err := s.issueRefresh(ctx, s.db, userID, nil)
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("error issuing access token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: secret}, nil
}

// issueRefresh stores the hash of a fresh secret and returns the plaintext.
func (s *UserService) issueRefresh(ctx context.Context, db dbx.DBTX, userID string, parentID *string) (string, *models.RefreshToken, error) {
	secret, err := common.MakeRandURLString(s.refreshBytes)
	if err != nil {
		return "", nil, fmt.Errorf("error generating refresh secret: %w", err)
	}
	hash, err := s.refreshes.Hash(secret)
	if err != nil {
		return "", nil, fmt.Errorf("error hashing refresh secret: %w", err)
	}

	token := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.refreshTTL),
		ParentID:  parentID,
	}
	if err := s.repomanager.RefreshTokens(db).Create(ctx, token); err != nil {
		return "", nil, fmt.Errorf("error storing refresh token: %w", err)
	}
	return secret, token, nil
}

// findLive returns the single live row whose hash matches secret, nil when
// none does, or common.ErrIntegrityFault when more than one does.
func (s *UserService) findLive(ctx context.Context, userID, secret string, now time.Time) (*models.RefreshToken, error) {
	candidates, err := s.repomanager.RefreshTokens(s.db).ListActive(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("error listing refresh tokens: %w", err)
	}

	var match *models.RefreshToken
	matches := 0
	for _, c := range candidates {
		ok, err := s.refreshes.Verify(secret, c.TokenHash)
		if err != nil {
			s.logger.Warn(ctx, "unreadable refresh token hash", "token_id", c.ID, "error", err)
			continue
		}
		if ok {
			match = c
			matches++
		}
	}

	if matches > 1 {
		s.logger.Error(ctx, "refresh secret matches several live tokens", "user_id", userID, "matches", matches)
		return nil, common.ErrIntegrityFault
	}
	return match, nil
}

// Refresh rotates a refresh token: the presented row is revoked and a child
// row is issued in one transaction, then a new access token is minted.
//
// A secret that matches no live row is checked against recently rotated rows;
// a hit there means a rotated-out secret was replayed, so the whole lineage
// after it is revoked and the error also matches common.ErrRefreshTokenReused.
func (s *UserService) Refresh(ctx context.Context, userID, secret string) (*TokenPair, error) {
	if userID == "" || secret == "" {
		return nil, common.ErrInvalidOrExpiredRefresh
	}

	now := s.now()
	match, err := s.findLive(ctx, userID, secret, now)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, s.detectReuse(ctx, userID, secret, now)
	}

	var newSecret string
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		revoked, err := s.repomanager.RefreshTokens(tx).Revoke(ctx, match.ID, now)
		if err != nil {
			return fmt.Errorf("error revoking refresh token: %w", err)
		}
		if !revoked {
			return common.ErrInvalidOrExpiredRefresh
		}
		newSecret, _, err = s.issueRefresh(ctx, tx, userID, &match.ID)
		return err
	}); err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("error issuing access token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: newSecret}, nil
}

func (s *UserService) detectReuse(ctx context.Context, userID, secret string, now time.Time) error {
	if s.reuseScanLimit <= 0 {
		return common.ErrInvalidOrExpiredRefresh
	}

	repo := s.repomanager.RefreshTokens(s.db)
	rotated, err := repo.ListRotated(ctx, userID, now, s.reuseScanLimit)
	if err != nil {
		s.logger.Warn(ctx, "refresh reuse scan failed", "user_id", userID, "error", err)
		return common.ErrInvalidOrExpiredRefresh
	}

	for _, r := range rotated {
		ok, err := s.refreshes.Verify(secret, r.TokenHash)
		if err != nil || !ok {
			continue
		}
		n, err := repo.RevokeDescendants(ctx, r.ID)
		if err != nil {
			s.logger.Error(ctx, "failed to revoke reused refresh lineage", "user_id", userID, "token_id", r.ID, "error", err)
		} else {
			s.logger.Warn(ctx, "refresh token reuse detected", "user_id", userID, "token_id", r.ID, "revoked", n)
		}
		return fmt.Errorf("%w: %w", common.ErrInvalidOrExpiredRefresh, common.ErrRefreshTokenReused)
	}
	return common.ErrInvalidOrExpiredRefresh
}

// Logout revokes the live refresh token matching secret without reissuing.
func (s *UserService) Logout(ctx context.Context, userID, secret string) error {
	if userID == "" || secret == "" {
		return common.ErrInvalidOrExpiredRefresh
	}

	now := s.now()
	match, err := s.findLive(ctx, userID, secret, now)
	if err != nil {
		return err
	}
	if match == nil {
		return common.ErrInvalidOrExpiredRefresh
	}

	revoked, err := s.repomanager.RefreshTokens(s.db).Revoke(ctx, match.ID, now)
	if err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	if !revoked {
		return common.ErrInvalidOrExpiredRefresh
	}
	return nil
}

// VerifyAccess checks that accessKey is a valid access token for userID and
// that the user exists.
//
// Errors: the auth decode errors, common.ErrSubjectMismatch, common.ErrorNotFound.
func (s *UserService) VerifyAccess(ctx context.Context, userID, accessKey string) error {
	claims, err := s.tokens.DecodeAccess(accessKey)
	if err != nil {
		return err
	}
	if claims.UserID() != userID {
		return common.ErrSubjectMismatch
	}
	if _, err := s.repomanager.Users(s.db).GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error loading user: %w", err)
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repomanager.Users(s.db).GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return u, nil
}

// SetActive flips the user's active flag. Deactivation also revokes every
// live refresh token of the user in the same transaction.
func (s *UserService) SetActive(ctx context.Context, userID string, active bool) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).SetActive(ctx, userID, active); err != nil {
			return err
		}
		if active {
			return nil
		}
		n, err := s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("error revoking refresh tokens: %w", err)
		}
		s.logger.Info(ctx, "user deactivated", "user_id", userID, "revoked", n)
		return nil
	})
}

// Ping reports database reachability.
func (s *UserService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
