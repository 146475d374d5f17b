package models

import "time"

// RefreshToken is one link of a login session's lineage. Only a salted hash
// of the secret is kept; ParentID points at the token this one replaced.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	ParentID  *string
}

// Live reports whether the token can still be redeemed at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
