// Package principal classifies the caller of an inbound request as an end
// user, a trusted peer service or anonymous, and carries the result through
// the request context.
package principal

import (
	"context"
	"slices"

	"github.com/dmitrijs2005/chatauth/internal/common"
)

// Principal is either User or Service. A nil Principal is anonymous.
type Principal interface {
	isPrincipal()
}

// User is an end user authenticated by an access token.
type User struct {
	ID        string
	AccessKey string
}

// Service is a peer service authenticated by a nonce-bound service credential.
type Service struct {
	Name   string
	Scopes []string
}

func (User) isPrincipal()    {}
func (Service) isPrincipal() {}

// HasScope reports whether the credential granted scope.
func (s Service) HasScope(scope string) bool {
	return slices.Contains(s.Scopes, scope)
}

// Match dispatches on the kind of p. Every kind needs a handler, so adding a
// kind breaks callers at compile time rather than at run time.
func Match[T any](p Principal, onUser func(User) T, onService func(Service) T, onAnonymous func() T) T {
	switch v := p.(type) {
	case User:
		return onUser(v)
	case Service:
		return onService(v)
	default:
		return onAnonymous()
	}
}

// RequireUser returns the user principal or common.ErrorUnauthorized.
func RequireUser(p Principal) (User, error) {
	u, ok := p.(User)
	if !ok || u.ID == "" {
		return User{}, common.ErrorUnauthorized
	}
	return u, nil
}

// RequireService returns the service principal or common.ErrorUnauthorized.
func RequireService(p Principal) (Service, error) {
	s, ok := p.(Service)
	if !ok {
		return Service{}, common.ErrorUnauthorized
	}
	return s, nil
}

type ctxKey struct{}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by NewContext, or nil.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxKey{}).(Principal)
	return p
}
