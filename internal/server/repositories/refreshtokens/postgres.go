// Package refreshtokens provides a PostgreSQL-backed repository for managing
// refresh tokens used in the server's authentication flow.
package refreshtokens

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/dbx"
	"github.com/dmitrijs2005/chatauth/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, user_id, token_hash, expires_at, revoked, created_at, parent_id`

func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, parent_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	var parent sql.NullString
	if token.ParentID != nil {
		parent = sql.NullString{String: *token.ParentID, Valid: true}
	}
	if err := r.db.QueryRowContext(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt, parent).Scan(&token.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at
	`
	return r.list(ctx, query, userID, now)
}

func (r *PostgresRepository) ListRotated(ctx context.Context, userID string, now time.Time, limit int) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM refresh_tokens t
		WHERE t.user_id = $1 AND t.revoked = TRUE AND t.expires_at > $2
		  AND EXISTS (SELECT 1 FROM refresh_tokens c WHERE c.parent_id = t.id)
		ORDER BY t.created_at DESC
		LIMIT $3
	`
	return r.list(ctx, query, userID, now, limit)
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE id = $1 AND revoked = FALSE AND expires_at > $2
	`
	n, err := r.exec(ctx, query, id, now)
	return n == 1, err
}

func (r *PostgresRepository) RevokeDescendants(ctx context.Context, id string) (int64, error) {
	query := `
		WITH RECURSIVE lineage AS (
			SELECT id FROM refresh_tokens WHERE parent_id = $1
			UNION ALL
			SELECT t.id FROM refresh_tokens t JOIN lineage l ON t.parent_id = l.id
		)
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE id IN (SELECT id FROM lineage) AND revoked = FALSE
	`
	return r.exec(ctx, query, id)
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
	`
	return r.exec(ctx, query, userID)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var tokens []*models.RefreshToken
	for rows.Next() {
		t := &models.RefreshToken{}
		var parent sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt, &parent); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if parent.Valid {
			p := parent.String
			t.ParentID = &p
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}
