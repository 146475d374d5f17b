package peer

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/chatauth/internal/api"
	"github.com/dmitrijs2005/chatauth/internal/common"
)

// UsersClient calls the users service. It satisfies principal.AccessVerifier.
type UsersClient struct {
	c *client
}

// NewUsersClient returns a client for the users service at o.BaseURL.
func NewUsersClient(o Options) *UsersClient {
	if o.Retries == 0 {
		o.Retries = defaultRetries
	}
	return &UsersClient{c: newClient("users", o)}
}

// VerifyAccess asks the users service whether accessKey is a valid access
// token of userID.
//
// Errors: common.ErrInvalidToken (401), common.ErrorNotFound (404),
// common.ErrServiceUnavailable otherwise.
func (u *UsersClient) VerifyAccess(ctx context.Context, userID, accessKey string) error {
	resp, err := u.c.do(ctx, request{
		method:     http.MethodPost,
		path:       "/verify-access",
		jsonBody:   api.VerifyAccessRequest{UserID: userID, AccessKey: accessKey},
		idempotent: true,
	})
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK:
		var out api.VerifyAccessResponse
		if err := resp.decode(&out); err != nil {
			return err
		}
		if !out.OK {
			return common.ErrInvalidToken
		}
		return nil
	case http.StatusUnauthorized:
		return common.ErrInvalidToken
	case http.StatusNotFound:
		return common.ErrorNotFound
	default:
		return unexpected(resp)
	}
}

// Login exchanges credentials for a token pair.
func (u *UsersClient) Login(ctx context.Context, username, password string) (*api.TokenResponse, error) {
	resp, err := u.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/token",
		form:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		return decodePair(resp)
	case http.StatusUnauthorized:
		return nil, common.ErrInvalidCredentials
	case http.StatusForbidden:
		return nil, common.ErrUserInactive
	case http.StatusTooManyRequests:
		return nil, common.ErrRateLimited
	default:
		return nil, unexpected(resp)
	}
}

// Register creates a user account.
func (u *UsersClient) Register(ctx context.Context, username, password string) (*api.UserResponse, error) {
	resp, err := u.c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/register",
		jsonBody: api.RegisterRequest{Username: username, Password: password},
	})
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusCreated:
		var out api.UserResponse
		if err := resp.decode(&out); err != nil {
			return nil, err
		}
		return &out, nil
	case http.StatusConflict:
		return nil, common.ErrUsernameTaken
	case http.StatusBadRequest:
		return nil, common.ErrInvalidInput
	case http.StatusTooManyRequests:
		return nil, common.ErrRateLimited
	default:
		return nil, unexpected(resp)
	}
}

// Refresh rotates a refresh token.
func (u *UsersClient) Refresh(ctx context.Context, userID, refreshToken string) (*api.TokenResponse, error) {
	resp, err := u.c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/token/refresh",
		jsonBody: api.RefreshRequest{RefreshToken: refreshToken, UserID: userID},
	})
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		return decodePair(resp)
	case http.StatusUnauthorized, http.StatusBadRequest:
		return nil, common.ErrInvalidOrExpiredRefresh
	default:
		return nil, unexpected(resp)
	}
}

// Logout revokes a refresh token.
func (u *UsersClient) Logout(ctx context.Context, userID, refreshToken string) error {
	resp, err := u.c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/logout",
		jsonBody: api.RefreshRequest{RefreshToken: refreshToken, UserID: userID},
	})
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return common.ErrInvalidOrExpiredRefresh
	default:
		return unexpected(resp)
	}
}

// Me returns the profile of the user owning accessKey.
func (u *UsersClient) Me(ctx context.Context, accessKey string) (*api.UserResponse, error) {
	resp, err := u.c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/users/me",
		headers:    map[string]string{common.AuthorizationHeaderName: common.BearerScheme + " " + accessKey},
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		var out api.UserResponse
		if err := resp.decode(&out); err != nil {
			return nil, err
		}
		return &out, nil
	case http.StatusUnauthorized:
		return nil, common.ErrorUnauthorized
	default:
		return nil, unexpected(resp)
	}
}

// SetActive flips the active flag of userID. credential is a service token
// carrying the users:admin scope.
//
// Errors: common.ErrInvalidInput (400), common.ErrorUnauthorized (401),
// common.ErrForbidden (403), common.ErrorNotFound (404).
func (u *UsersClient) SetActive(ctx context.Context, credential, userID string, active bool) error {
	resp, err := u.c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/users/" + url.PathEscape(userID) + "/active",
		headers:  map[string]string{common.AuthorizationHeaderName: common.BearerScheme + " " + credential},
		jsonBody: api.SetActiveRequest{Active: &active},
	})
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return common.ErrInvalidInput
	case http.StatusUnauthorized:
		return common.ErrorUnauthorized
	case http.StatusForbidden:
		return common.ErrForbidden
	case http.StatusNotFound:
		return common.ErrorNotFound
	default:
		return unexpected(resp)
	}
}

func decodePair(resp *response) (*api.TokenResponse, error) {
	var out api.TokenResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
