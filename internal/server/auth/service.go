package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultServiceTokenTTL is the lifetime of a minted service credential.
const DefaultServiceTokenTTL = 60 * time.Second

// ServiceClaims is the payload of a peer service credential.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Type    string   `json:"typ"`
	Service string   `json:"service"`
	Nonce   string   `json:"nonce"`
	Scopes  []string `json:"scopes,omitempty"`
}

// ServiceSigner mints service credentials for the calling service.
type ServiceSigner struct {
	key     *Key
	service string
	ttl     time.Duration
	now     func() time.Time
}

// NewServiceSigner returns a signer that names itself service.
func NewServiceSigner(key *Key, service string, ttl time.Duration) *ServiceSigner {
	if ttl <= 0 {
		ttl = DefaultServiceTokenTTL
	}
	return &ServiceSigner{key: key, service: service, ttl: ttl, now: time.Now}
}

// SignService signs {typ:"service", service, nonce, iat, exp, scopes}.
func (s *ServiceSigner) SignService(nonce string, scopes ...string) (string, error) {
	now := s.now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Type:    common.TokenTypeService,
		Service: s.service,
		Nonce:   nonce,
		Scopes:  scopes,
	}
	token, err := s.key.signClaims(claims)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return token, nil
}

// ServiceVerifier checks peer service credentials. It does not consume the
// nonce; callers confirm it with the nonce authority afterwards.
type ServiceVerifier struct {
	key    *Key
	maxTTL time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

// NewServiceVerifier returns a verifier rejecting credentials whose
// exp - iat exceeds maxTTL.
func NewServiceVerifier(key *Key, maxTTL time.Duration) *ServiceVerifier {
	v := &ServiceVerifier{key: key, maxTTL: maxTTL, now: time.Now}
	v.parser = newParser(key, func() time.Time { return v.now() })
	return v
}

// DecodeService verifies signature, expiry, type, service name and lifetime.
// A credential without a nonce yields common.ErrMissingNonce.
func (v *ServiceVerifier) DecodeService(token string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.key.keyFunc); err != nil {
		return nil, classify(err)
	}
	if claims.Type != common.TokenTypeService {
		return nil, common.ErrWrongTokenType
	}
	if claims.Service == "" || claims.IssuedAt == nil {
		return nil, common.ErrInvalidToken
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.maxTTL {
		return nil, fmt.Errorf("%w: lifetime exceeds %s", common.ErrInvalidToken, v.maxTTL)
	}
	if claims.Nonce == "" {
		return nil, common.ErrMissingNonce
	}
	return claims, nil
}
