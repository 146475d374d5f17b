package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSigningKey is returned when a verify-only Key is asked to sign.
var ErrNoSigningKey = errors.New("no signing key configured")

// Key is a process-wide JWT algorithm with its signing and verification
// material. The algorithm is fixed at construction and never taken from a
// token header.
type Key struct {
	method jwt.SigningMethod
	sign   any
	verify any
}

// NewHMACKey builds a symmetric key for HS256, HS384 or HS512.
func NewHMACKey(alg string, secret []byte) (*Key, error) {
	var m jwt.SigningMethod
	switch alg {
	case "HS256":
		m = jwt.SigningMethodHS256
	case "HS384":
		m = jwt.SigningMethodHS384
	case "HS512":
		m = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported HMAC algorithm %q", alg)
	}
	if len(secret) == 0 {
		return nil, errors.New("empty HMAC secret")
	}
	return &Key{method: m, sign: secret, verify: secret}, nil
}

// NewPEMKey builds an asymmetric RS256 or EdDSA key from PEM blocks.
// privPEM may be nil for a verify-only key.
func NewPEMKey(alg string, privPEM, pubPEM []byte) (*Key, error) {
	k := &Key{}
	switch alg {
	case "RS256":
		k.method = jwt.SigningMethodRS256
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("parse RSA public key: %w", err)
		}
		k.verify = pub
		if privPEM != nil {
			priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
			if err != nil {
				return nil, fmt.Errorf("parse RSA private key: %w", err)
			}
			k.sign = priv
		}
	case "EdDSA":
		k.method = jwt.SigningMethodEdDSA
		pub, err := jwt.ParseEdPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("parse Ed25519 public key: %w", err)
		}
		k.verify = pub
		if privPEM != nil {
			priv, err := jwt.ParseEdPrivateKeyFromPEM(privPEM)
			if err != nil {
				return nil, fmt.Errorf("parse Ed25519 private key: %w", err)
			}
			k.sign = priv
		}
	default:
		return nil, fmt.Errorf("unsupported asymmetric algorithm %q", alg)
	}
	return k, nil
}

// LoadKey builds a Key from configuration: a secret for HS* algorithms,
// PEM files otherwise. An empty privFile yields a verify-only key.
func LoadKey(alg, secret, privFile, pubFile string) (*Key, error) {
	if strings.HasPrefix(alg, "HS") {
		return NewHMACKey(alg, []byte(secret))
	}

	pub, err := os.ReadFile(pubFile)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	var priv []byte
	if privFile != "" {
		if priv, err = os.ReadFile(privFile); err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	return NewPEMKey(alg, priv, pub)
}

// Alg returns the JWT "alg" name.
func (k *Key) Alg() string { return k.method.Alg() }

func (k *Key) signClaims(claims jwt.Claims) (string, error) {
	if k.sign == nil {
		return "", ErrNoSigningKey
	}
	return jwt.NewWithClaims(k.method, claims).SignedString(k.sign)
}

func (k *Key) keyFunc(*jwt.Token) (any, error) {
	return k.verify, nil
}
