// Package rest exposes the users service over HTTP with gin.
package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/chatauth/internal/api"
	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/ginx"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/principal"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
	"github.com/dmitrijs2005/chatauth/internal/server/models"
	"github.com/dmitrijs2005/chatauth/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Users is the part of services.UserService the handlers need.
type Users interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, userID, secret string) (*services.TokenPair, error)
	Logout(ctx context.Context, userID, secret string) error
	VerifyAccess(ctx context.Context, userID, accessKey string) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetActive(ctx context.Context, userID string, active bool) error
	Ping(ctx context.Context) error
}

type Handler struct {
	users  Users
	logger logging.Logger
}

func NewHandler(users Users, logger logging.Logger) *Handler {
	return &Handler{users: users, logger: logger.With("module", "rest")}
}

// Routes registers the users API on r. Every endpoint that runs a slow hash
// goes through limiter; /users/me requires a user principal and
// /users/:id/active a peer service holding common.ScopeUsersAdmin.
func (h *Handler) Routes(r gin.IRouter, resolver *principal.Resolver, limiter *ginx.RateLimiter) {
	r.GET("/health", h.Health)

	limited := limiter.Middleware()
	r.POST("/token", limited, h.Token)
	r.POST("/register", limited, h.Register)
	r.POST("/token/refresh", limited, h.Refresh)
	r.POST("/logout", limited, h.Logout)
	r.POST("/verify-access", h.VerifyAccess)
	r.POST("/get-user", h.GetUserByToken)

	resolve := principal.Middleware(resolver)
	r.GET("/users/me", resolve, principal.UserRequired(), h.Me)
	r.POST("/users/:id/active", resolve, principal.ServiceRequired(), requireScope(common.ScopeUsersAdmin), h.SetActive)
}

func requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := principal.RequireService(principal.FromGin(c))
		if err != nil || !s.HasScope(scope) {
			ginx.Abort(c, http.StatusForbidden, "missing scope "+scope)
			return
		}
		c.Next()
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	ginx.Abort(c, code, msg)
}

// Token handles POST /token with form fields username and password.
func (h *Handler) Token(c *gin.Context) {
	var form api.LoginForm
	if err := c.ShouldBind(&form); err != nil {
		ginx.Abort(c, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, err := h.users.Login(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(pair))
}

func (h *Handler) Register(c *gin.Context) {
	var req api.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusBadRequest, "invalid request")
		return
	}

	u, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, userResponse(u))
}

// Refresh handles POST /token/refresh. Any rejection is a plain 401.
func (h *Handler) Refresh(c *gin.Context) {
	var req api.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	pair, err := h.users.Refresh(c.Request.Context(), req.UserID, req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(pair))
}

// Logout handles POST /logout. An unknown or already revoked token is 400.
func (h *Handler) Logout(c *gin.Context) {
	var req api.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusBadRequest, "invalid or expired refresh token")
		return
	}

	err := h.users.Logout(c.Request.Context(), req.UserID, req.RefreshToken)
	if errors.Is(err, common.ErrInvalidOrExpiredRefresh) {
		ginx.Abort(c, http.StatusBadRequest, "invalid or expired refresh token")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "logged out"})
}

func (h *Handler) VerifyAccess(c *gin.Context) {
	var req api.VerifyAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.users.VerifyAccess(c.Request.Context(), req.UserID, req.AccessKey); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.VerifyAccessResponse{OK: true})
}

// Me returns the profile of the authenticated user.
func (h *Handler) Me(c *gin.Context) {
	u, err := principal.RequireUser(principal.FromGin(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), u.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}

// GetUserByToken handles POST /get-user: the profile of the owner of the
// access token in the body. Unknown owners are reported as 401.
func (h *Handler) GetUserByToken(c *gin.Context) {
	var req api.AccessTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	typ, userID, err := auth.Peek(req.AccessToken)
	if err != nil || typ != common.TokenTypeAccess || userID == "" {
		ginx.Abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx := c.Request.Context()
	err = h.users.VerifyAccess(ctx, userID, req.AccessToken)
	if err == nil {
		var user *models.User
		if user, err = h.users.GetUser(ctx, userID); err == nil {
			c.JSON(http.StatusOK, userResponse(user))
			return
		}
	}
	if errors.Is(err, common.ErrorNotFound) {
		ginx.Abort(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.fail(c, err)
}

// SetActive handles POST /users/:id/active for peer services.
func (h *Handler) SetActive(c *gin.Context) {
	userID := c.Param("id")
	if _, err := uuid.Parse(userID); err != nil {
		ginx.Abort(c, http.StatusBadRequest, "invalid user id")
		return
	}
	var req api.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.users.SetActive(c.Request.Context(), userID, *req.Active); err != nil {
		h.fail(c, err)
		return
	}

	svc, _ := principal.RequireService(principal.FromGin(c))
	h.logger.Info(c.Request.Context(), "user active flag changed", "user_id", userID, "active", *req.Active, "by", svc.Name)
	c.JSON(http.StatusOK, api.MessageResponse{Message: "updated"})
}

// Health reports 200 while the database answers pings.
func (h *Handler) Health(c *gin.Context) {
	if err := h.users.Ping(c.Request.Context()); err != nil {
		h.logger.Warn(c.Request.Context(), "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable"})
		return
	}
	c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
}

func tokenResponse(p *services.TokenPair) api.TokenResponse {
	return api.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    api.TokenTypeBearer,
	}
}

func userResponse(u *models.User) api.UserResponse {
	return api.UserResponse{ID: u.ID, Username: u.UserName, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
}
