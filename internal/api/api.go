// Package api holds the JSON and form payloads exchanged with the users and
// nonce services. Handlers bind them with gin; peer clients encode them.
package api

import "time"

// TokenTypeBearer is the token_type reported with every issued pair.
const TokenTypeBearer = "bearer"

type LoginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// RefreshRequest is the body of both /token/refresh and /logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	UserID       string `json:"user_id" binding:"required,uuid"`
}

type VerifyAccessRequest struct {
	UserID    string `json:"user_id" binding:"required,uuid"`
	AccessKey string `json:"access_key" binding:"required"`
}

type VerifyAccessResponse struct {
	OK bool `json:"ok"`
}

// AccessTokenRequest is the body of /get-user.
type AccessTokenRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// SetActiveRequest is the body of /users/:id/active. Active is a pointer so
// that an explicit false passes the required check.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=72"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type NonceResponse struct {
	Nonce string `json:"nonce"`
	// ExpiresIn is the nonce lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

type ConfirmNonceRequest struct {
	Nonce string `json:"nonce" binding:"required"`
}
