// Package nonce issues single-use random values and confirms each of them at
// most once. Values live in a Store; presence in the store means "unused".
package nonce

import (
	"context"
	"time"
)

// Store keeps outstanding nonces. Both operations must be atomic with respect
// to each other so that a value can be taken at most once.
type Store interface {
	// Put stores value for ttl unless it is already present and unexpired.
	// It reports whether the value was stored.
	Put(ctx context.Context, value string, ttl time.Duration) (bool, error)

	// Take removes value if it is present and unexpired and reports whether
	// this call removed it.
	Take(ctx context.Context, value string) (bool, error)

	Close() error
}
