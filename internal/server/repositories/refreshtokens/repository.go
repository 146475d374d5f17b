// Package refreshtokens declares the server-side repository contract for
// refresh-token lineages in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/server/models"
)

// Repository defines operations over refresh-token rows. Implementations
// bound to a transaction must make Revoke a compare-and-swap so that two
// concurrent redemptions of one row cannot both observe it live.
type Repository interface {
	// Create inserts token and fills CreatedAt.
	Create(ctx context.Context, token *models.RefreshToken) error

	// ListActive returns the user's non-revoked rows that expire after now,
	// oldest first. This is the bounded candidate set for secret matching.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)

	// ListRotated returns up to limit of the user's most recent revoked,
	// unexpired rows that have a successor, newest first.
	ListRotated(ctx context.Context, userID string, now time.Time, limit int) ([]*models.RefreshToken, error)

	// Revoke flips revoked to true only if the row is still live at now.
	// It reports whether this call performed the flip.
	Revoke(ctx context.Context, id string, now time.Time) (bool, error)

	// RevokeDescendants revokes every row reachable from id through
	// parent_id links and returns how many rows changed.
	RevokeDescendants(ctx context.Context, id string) (int64, error)

	// RevokeAllForUser revokes every live row of the user.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}
