package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
)

// Claims are the JWT claims the upstream auth subsystem issues
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Middleware validates bearer tokens and places the caller identity on the
// request context. Token issuance happens upstream; only HMAC validation
// happens here.
type Middleware struct {
	secret []byte
	logger observability.Logger
}

// NewMiddleware creates an auth middleware with the given signing secret
func NewMiddleware(secret string, logger observability.Logger) *Middleware {
	return &Middleware{
		secret: []byte(secret),
		logger: logger,
	}
}

// Handler returns the gin handler enforcing authentication
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			m.logger.Warn("Rejected invalid token", map[string]interface{}{
				"path": c.FullPath(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role := Role(claims.Role)
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown role"})
			return
		}

		identity := Identity{UserID: claims.Subject, Role: role}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}
