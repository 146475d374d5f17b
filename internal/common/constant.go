// Package common contains shared constants and sentinel errors used across
// the users service, the nonce service and every downstream service that
// resolves principals.
package common

// Header names carrying caller credentials on inbound requests.
const (
	AuthorizationHeaderName = "Authorization"
	UserIDHeaderName        = "X-User-Id"
	AccessKeyHeaderName     = "X-Access-Key"
	RequestIDHeaderName     = "X-Request-Id"
)

// BearerScheme is the Authorization scheme prefix for JWT credentials.
const BearerScheme = "Bearer"

// Token kinds carried in the "typ" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeService = "service"
)

// ScopeUsersAdmin lets a peer service change account state in the users service.
const ScopeUsersAdmin = "users:admin"
