package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDKey = "user_id"

// Auth accepts an HS256 bearer token and exposes its subject as the caller's user id.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		userID, err := parseBearer(c.GetHeader("Authorization"), key)
		if err != nil {
			logger.Debug("rejected request without valid token", zap.Error(err), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller, or "" outside Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func parseBearer(header string, key []byte) (string, error) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", errors.New("missing token")
	}
	if len(key) == 0 {
		return "", errors.New("auth secret not configured")
	}

	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(header[7:]), claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
