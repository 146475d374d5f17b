package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
)

const (
	// DefaultBytes is the amount of randomness in a nonce (hex-encoded on the wire).
	DefaultBytes = 32
	// DefaultTTL is how long an issued nonce stays confirmable.
	DefaultTTL = 30 * time.Second

	maxIssueAttempts = 5
)

// randHex is a seam for tests.
var randHex = common.MakeRandHexString

// Authority issues nonces into a Store and confirms them exactly once.
type Authority struct {
	store  Store
	bytes  int
	ttl    time.Duration
	logger logging.Logger
}

// NewAuthority returns an Authority over store. Zero bytes or ttl select the defaults.
func NewAuthority(store Store, bytes int, ttl time.Duration, logger logging.Logger) *Authority {
	if bytes <= 0 {
		bytes = DefaultBytes
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authority{store: store, bytes: bytes, ttl: ttl, logger: logger.With("component", "nonce")}
}

// Ping checks the store when it can be checked.
func (a *Authority) Ping(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// TTL returns the lifetime of issued nonces.
func (a *Authority) TTL() time.Duration { return a.ttl }

// Issue generates and stores a fresh nonce. A value already present in the
// store is regenerated; after maxIssueAttempts collisions it gives up with
// common.ErrNonceCollision.
func (a *Authority) Issue(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		value, err := randHex(a.bytes)
		if err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		stored, err := a.store.Put(ctx, value, a.ttl)
		if err != nil {
			return "", fmt.Errorf("store nonce: %w", err)
		}
		if stored {
			return value, nil
		}
		a.logger.Warn(ctx, "nonce collision", "attempt", attempt)
	}
	return "", common.ErrNonceCollision
}

// Confirm consumes value. Unknown, expired and already confirmed values all
// yield common.ErrNonceNotFound.
func (a *Authority) Confirm(ctx context.Context, value string) error {
	if value == "" {
		return common.ErrNonceNotFound
	}
	taken, err := a.store.Take(ctx, value)
	if err != nil {
		return fmt.Errorf("take nonce: %w", err)
	}
	if !taken {
		return common.ErrNonceNotFound
	}
	return nil
}
