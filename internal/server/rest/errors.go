package rest

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/chatauth/internal/common"
)

// statusFor maps a service error to an HTTP status and a client-facing
// message. Messages never say which credential check failed.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, common.ErrUserInactive):
		return http.StatusForbidden, "user is inactive"
	case errors.Is(err, common.ErrUsernameTaken):
		return http.StatusConflict, "username already taken"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, common.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidOrExpiredRefresh),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrWrongTokenType),
		errors.Is(err, common.ErrSubjectMismatch),
		errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
