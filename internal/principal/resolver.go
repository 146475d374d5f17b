package principal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
)

// AccessVerifier checks that accessKey is a valid access token of userID.
// The users service verifies locally; other services call it over HTTP.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, userID, accessKey string) error
}

// ServiceVerifier checks the signature and claims of a service credential.
type ServiceVerifier interface {
	DecodeService(token string) (*auth.ServiceClaims, error)
}

// NonceConfirmer consumes a nonce exactly once.
type NonceConfirmer interface {
	Confirm(ctx context.Context, value string) error
}

// Credentials are the raw authentication inputs of one request.
type Credentials struct {
	UserID        string
	AccessKey     string
	Authorization string
}

// Resolver turns Credentials into a Principal. It keeps no per-request state.
type Resolver struct {
	access   AccessVerifier
	services ServiceVerifier
	nonces   NonceConfirmer
	logger   logging.Logger
}

// NewResolver builds a Resolver. services and nonces may both be nil, in
// which case every service credential is rejected.
func NewResolver(access AccessVerifier, services ServiceVerifier, nonces NonceConfirmer, logger logging.Logger) *Resolver {
	return &Resolver{access: access, services: services, nonces: nonces, logger: logger.With("component", "principal")}
}

// Resolve classifies the caller; the first matching rule wins:
//
//  1. X-User-Id with X-Access-Key, or a bearer access token: User.
//  2. A bearer service credential with a confirmed nonce: Service.
//  3. Nothing presented: nil (anonymous).
//
// Rejections wrap common.ErrorUnauthorized, except a service credential
// without a nonce (common.ErrMissingNonce) and a verifier that could not
// decide, such as an unreachable peer or database
// (common.ErrServiceUnavailable).
func (r *Resolver) Resolve(ctx context.Context, c Credentials) (Principal, error) {
	if c.UserID != "" && c.AccessKey != "" {
		return r.resolveUser(ctx, c.UserID, c.AccessKey)
	}

	token, ok := bearerToken(c.Authorization)
	if !ok {
		if c.Authorization != "" {
			return nil, fmt.Errorf("%w: malformed authorization header", common.ErrorUnauthorized)
		}
		return nil, nil
	}

	typ, sub, err := auth.Peek(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	switch typ {
	case common.TokenTypeAccess:
		return r.resolveUser(ctx, sub, token)
	case common.TokenTypeService:
		return r.resolveService(ctx, token)
	default:
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, common.ErrWrongTokenType)
	}
}

func (r *Resolver) resolveUser(ctx context.Context, userID, accessKey string) (Principal, error) {
	if err := r.access.VerifyAccess(ctx, userID, accessKey); err != nil {
		switch {
		case isAccessRejection(err):
			return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
		case errors.Is(err, common.ErrServiceUnavailable):
			return nil, err
		default:
			r.logger.Error(ctx, "access verification failed", "error", err)
			return nil, fmt.Errorf("%w: %w", common.ErrServiceUnavailable, err)
		}
	}
	return User{ID: userID, AccessKey: accessKey}, nil
}

// isAccessRejection reports whether err says the credential itself is bad,
// as opposed to the verifier failing to decide.
func isAccessRejection(err error) bool {
	for _, target := range []error{
		common.ErrInvalidToken,
		common.ErrTokenExpired,
		common.ErrWrongTokenType,
		common.ErrSubjectMismatch,
		common.ErrorNotFound,
		common.ErrorUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *Resolver) resolveService(ctx context.Context, token string) (Principal, error) {
	if r.services == nil || r.nonces == nil {
		return nil, fmt.Errorf("%w: service credentials are not accepted", common.ErrorUnauthorized)
	}

	claims, err := r.services.DecodeService(token)
	if err != nil {
		if errors.Is(err, common.ErrMissingNonce) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}

	if err := r.nonces.Confirm(ctx, claims.Nonce); err != nil {
		switch {
		case errors.Is(err, common.ErrNonceNotFound), errors.Is(err, common.ErrNonceReused):
			r.logger.Warn(ctx, "service credential nonce replayed or expired", "service", claims.Service)
			return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
		case errors.Is(err, common.ErrServiceUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", common.ErrServiceUnavailable, err)
		}
	}
	return Service{Name: claims.Service, Scopes: claims.Scopes}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// StatusCode maps a Resolve error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, common.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrMissingNonce):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}
