package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the client API key.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests whose key does not match hash. The key is read
// from X-API-Key or an Authorization bearer token. An empty hash disables
// the check.
func APIKey(hash string, logger *zap.Logger) gin.HandlerFunc {
	if hash == "" {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	want := []byte(hash)

	return func(c *gin.Context) {
		key := requestKey(c.Request)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing API key",
			})
			return
		}
		if err := bcrypt.CompareHashAndPassword(want, []byte(key)); err != nil {
			logger.Warn("Rejected API key",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid API key",
			})
			return
		}
		c.Next()
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on a websocket handshake.
	return r.URL.Query().Get("api_key")
}

// HashAPIKey returns the bcrypt hash to store in API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
