// Package nonceserver exposes a nonce.Authority over HTTP and runs the
// nonce service.
package nonceserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/api"
	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/ginx"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/gin-gonic/gin"
)

// Nonces is what the handlers need from nonce.Authority.
type Nonces interface {
	Issue(ctx context.Context) (string, error)
	Confirm(ctx context.Context, value string) error
	Ping(ctx context.Context) error
	TTL() time.Duration
}

type Handler struct {
	nonces Nonces
	logger logging.Logger
}

func NewHandler(nonces Nonces, logger logging.Logger) *Handler {
	return &Handler{nonces: nonces, logger: logger.With("module", "nonce_http")}
}

func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.POST("/nonce", h.Issue)
	r.POST("/nonce/confirm", h.Confirm)
}

// Issue handles POST /nonce.
func (h *Handler) Issue(c *gin.Context) {
	n, err := h.nonces.Issue(c.Request.Context())
	if err != nil {
		h.logger.Error(c.Request.Context(), "nonce issue failed", "error", err)
		if errors.Is(err, common.ErrNonceCollision) {
			ginx.Abort(c, http.StatusInternalServerError, "internal server error")
			return
		}
		ginx.Abort(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	c.JSON(http.StatusCreated, api.NonceResponse{Nonce: n, ExpiresIn: int(h.nonces.TTL() / time.Second)})
}

// Confirm handles POST /nonce/confirm. Unknown, expired and already
// confirmed values are all 404.
func (h *Handler) Confirm(c *gin.Context) {
	var req api.ConfirmNonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.Abort(c, http.StatusNotFound, "nonce not found or expired")
		return
	}

	err := h.nonces.Confirm(c.Request.Context(), req.Nonce)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, common.ErrNonceNotFound):
		ginx.Abort(c, http.StatusNotFound, "nonce not found or expired")
	default:
		h.logger.Error(c.Request.Context(), "nonce confirm failed", "error", err)
		ginx.Abort(c, http.StatusServiceUnavailable, "service unavailable")
	}
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.nonces.Ping(c.Request.Context()); err != nil {
		h.logger.Warn(c.Request.Context(), "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable"})
		return
	}
	c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
}
