// Package session keeps the operator's current login in a local SQLite
// database so that successive authctl invocations share it.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/chatauth/internal/authctl/session/migrations"
	"github.com/dmitrijs2005/chatauth/internal/dbx"
	"github.com/dmitrijs2005/chatauth/internal/filex"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	dirName  = "chatauth"
	fileName = "session.db"
)

const (
	keyUserID       = "user_id"
	keyUsername     = "username"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

// ErrNoSession is returned by Load when nobody is logged in.
var ErrNoSession = errors.New("not logged in")

// Session is the state of one login.
type Session struct {
	UserID       string
	Username     string
	AccessToken  string
	RefreshToken string
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the session database under dir/chatauth.
// An empty dir selects the user config directory.
func Open(ctx context.Context, dir string) (*Store, error) {
	path, err := filex.EnsureSubdDir(dir, dirName)
	if err != nil {
		return nil, err
	}
	return OpenDSN(ctx, filepath.Join(path, fileName))
}

// OpenDSN opens a session database at dsn, e.g. ":memory:" in tests.
func OpenDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Load returns the current session or ErrNoSession.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	repo := newMetadataRepository(s.db)

	var sess Session
	for key, dst := range map[string]*string{
		keyUserID:       &sess.UserID,
		keyUsername:     &sess.Username,
		keyAccessToken:  &sess.AccessToken,
		keyRefreshToken: &sess.RefreshToken,
	} {
		v, err := repo.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		*dst = string(v)
	}

	if sess.UserID == "" || sess.RefreshToken == "" {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Save replaces the stored session atomically.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := newMetadataRepository(tx)
		if err := repo.Clear(ctx); err != nil {
			return err
		}
		for key, v := range map[string]string{
			keyUserID:       sess.UserID,
			keyUsername:     sess.Username,
			keyAccessToken:  sess.AccessToken,
			keyRefreshToken: sess.RefreshToken,
		} {
			if err := repo.Set(ctx, key, []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear forgets the session.
func (s *Store) Clear(ctx context.Context) error {
	return newMetadataRepository(s.db).Clear(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
