package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const callerContextKey = "CallerID"

// ServiceClaims are the JWT claims of an API caller. Tokens are minted out of
// band (deploy tooling, operator CLI) with the shared secret; the engine only
// verifies.
type ServiceClaims struct {
	Caller string `json:"caller"`
	jwt.RegisteredClaims
}

// GenerateToken mints a caller token. Exported for tooling and tests.
func GenerateToken(caller, secret string, expiresAt time.Time) (string, error) {
	claims := ServiceClaims{
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*ServiceClaims); ok && token.Valid {
		return claims.Caller, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces bearer-token auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		caller, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(callerContextKey, caller)
		c.Next()
	}
}

// CallerID returns the authenticated caller from context.
func CallerID(c *gin.Context) string {
	if v, ok := c.Get(callerContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}
