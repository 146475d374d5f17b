// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account owned by the credential store. Users are never
// deleted; deactivation flips IsActive.
type User struct {
	ID           string
	UserName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}
