// Package users declares the credential store's persistence contract and
// its PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/chatauth/internal/server/models"
)

type Repository interface {
	// Create inserts user and fills CreatedAt. A duplicate username yields
	// common.ErrUsernameTaken.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetActive(ctx context.Context, id string, active bool) error
}
