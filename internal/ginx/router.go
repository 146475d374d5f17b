// Package ginx holds the gin plumbing shared by the HTTP services: the base
// router with request ids and request logging, a per-client rate limiter and
// a context-driven serve loop.
package ginx

import (
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// NewRouter returns a gin engine with recovery, request ids, gzip and
// request logging installed. Proxy headers are not trusted.
func NewRouter(logger logging.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	r.Use(
		gin.Recovery(),
		requestid.New(requestid.WithCustomHeaderStrKey(requestid.HeaderStrKey(common.RequestIDHeaderName))),
		RequestLogger(logger),
		gzip.Gzip(gzip.DefaultCompression),
	)
	return r, nil
}

// RequestLogger logs one line per completed request.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rlog := logger.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"request_id", requestid.Get(c),
		)

		c.Next()

		rlog.Info(c.Request.Context(), "request completed",
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Abort stops the chain with a JSON error body.
func Abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
