package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/jwt"
	"secureconnect-sync/pkg/response"
	"secureconnect-sync/pkg/sanitize"
)

// ContextUserID is the gin context key holding the authenticated user id
const ContextUserID = "user_id"

// AuthMiddleware validates the relay access token and sets user_id in the
// gin context. The token is read from the Authorization header, or from the
// token query parameter for WebSocket upgrades where browsers cannot set
// headers.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.FromError(c, apperrors.UnauthorizedError("Authorization header required"))
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.FromError(c, apperrors.ExpiredTokenError())
			} else {
				response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
			}
			c.Abort()
			return
		}

		if !sanitize.ValidUserID(claims.UserID) {
			response.FromError(c, apperrors.InvalidTokenError("Invalid token subject"))
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthMiddleware
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextUserID)
	return id, id != ""
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
