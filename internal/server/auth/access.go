// Package auth mints and verifies the JWTs used by the platform: access
// tokens for end users and short-lived service credentials for peers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// UserID returns the token subject.
func (c *AccessClaims) UserID() string { return c.Subject }

// Authority issues and decodes access tokens with a single process-wide key.
type Authority struct {
	key    *Key
	ttl    time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

// NewAuthority returns an Authority signing with key and issuing tokens valid for ttl.
func NewAuthority(key *Key, ttl time.Duration) *Authority {
	a := &Authority{key: key, ttl: ttl, now: time.Now}
	a.parser = newParser(key, func() time.Time { return a.now() })
	return a
}

func newParser(key *Key, now func() time.Time) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{key.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)
}

// IssueAccess signs {sub, iat, exp, typ:"access"} for userID.
func (a *Authority) IssueAccess(userID string) (string, error) {
	now := a.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		Type: common.TokenTypeAccess,
	}
	token, err := a.key.signClaims(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// DecodeAccess verifies signature, expiry and type of an access token.
//
// Errors: common.ErrTokenExpired, common.ErrWrongTokenType or
// common.ErrInvalidToken for everything else.
func (a *Authority) DecodeAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, err := a.parser.ParseWithClaims(token, claims, a.key.keyFunc); err != nil {
		return nil, classify(err)
	}
	if claims.Type != common.TokenTypeAccess {
		return nil, common.ErrWrongTokenType
	}
	if claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return common.ErrTokenExpired
	}
	return fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
}

// Peek returns the "typ" and "sub" claims without verifying the token. The
// result is only good for choosing which verifier to run next.
func Peek(token string) (typ, subject string, err error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	return claims.Type, claims.Subject, nil
}
