// Package hashx hides slow, salted secret hashing behind one capability so
// that passwords and refresh-token secrets can use different algorithms and
// cost parameters without duplicating the calling code.
package hashx

import "errors"

// Hasher turns a secret into a self-describing, salted digest and checks
// candidates against it. Verify returns false (never an error) for a wrong
// secret; errors are reserved for malformed digests.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) (bool, error)
}

// ErrMalformedDigest is returned when a stored digest cannot be parsed.
var ErrMalformedDigest = errors.New("hashx: malformed digest")
