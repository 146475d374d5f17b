package principal

import (
	"net/http"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/gin-gonic/gin"
)

const ginKey = "principal"

// Middleware resolves the caller of every request and stores the result in
// both the gin context and the request context. Rejected credentials abort
// the request; anonymous callers pass through.
func Middleware(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := r.Resolve(c.Request.Context(), Credentials{
			UserID:        c.GetHeader(common.UserIDHeaderName),
			AccessKey:     c.GetHeader(common.AccessKeyHeaderName),
			Authorization: c.GetHeader(common.AuthorizationHeaderName),
		})
		if err != nil {
			code := StatusCode(err)
			c.AbortWithStatusJSON(code, gin.H{"error": errorMessage(code)})
			return
		}

		c.Set(ginKey, p)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), p))
		c.Next()
	}
}

// FromGin returns the principal stored by Middleware, or nil.
func FromGin(c *gin.Context) Principal {
	v, ok := c.Get(ginKey)
	if !ok {
		return nil
	}
	p, _ := v.(Principal)
	return p
}

// UserRequired aborts with 401 unless Middleware resolved a User.
func UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := RequireUser(FromGin(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user authentication required"})
			return
		}
		c.Next()
	}
}

// ServiceRequired aborts with 401 unless Middleware resolved a Service.
func ServiceRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := RequireService(FromGin(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "service authentication required"})
			return
		}
		c.Next()
	}
}

func errorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "missing nonce in service token"
	case http.StatusServiceUnavailable:
		return "authentication backend unavailable"
	default:
		return "unauthorized"
	}
}
