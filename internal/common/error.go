// Package common defines shared constants and sentinel errors used across
// the services of the platform. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidInput   = errors.New("invalid input")
	ErrForbidden      = errors.New("forbidden")

	// Credential store errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserInactive       = errors.New("user is inactive")
	ErrUsernameTaken      = errors.New("username already taken")

	// Refresh token lifecycle errors.
	ErrInvalidOrExpiredRefresh = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReused      = errors.New("refresh token reused")

	// Access and service token errors.
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrWrongTokenType  = errors.New("wrong token type")
	ErrSubjectMismatch = errors.New("subject mismatch")
	ErrMissingNonce    = errors.New("missing nonce in service token")

	// Nonce errors.
	ErrNonceNotFound  = errors.New("nonce not found or expired")
	ErrNonceReused    = errors.New("nonce reused")
	ErrNonceCollision = errors.New("could not allocate unique nonce")

	// Too many attempts from one client.
	ErrRateLimited = errors.New("rate limited")

	// Peer call failed, timed out or the breaker is open.
	ErrServiceUnavailable = errors.New("service unavailable")

	// More than one live refresh token matched a single secret. Ops alert,
	// never shown to callers.
	ErrIntegrityFault = errors.New("integrity fault")
)
