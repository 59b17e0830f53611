package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	redisstore "github.com/fleetwatch/fleetwatch/internal/storage/redis"
)

// Claims carried by operator tokens. client_id scopes every query; Subject
// is the fallback for tokens minted before the claim existed.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// JWTAuth guards the operator API. HS256 only.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		clientID := claims.ClientID
		if clientID == "" {
			clientID = claims.Subject
		}
		if clientID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token carries no client"})
			c.Abort()
			return
		}

		c.Set("client_id", clientID)
		c.Next()
	}
}

// cachedKey is the projection of an api_keys row the auth path needs. The
// db.APIKey json tags hide client_id from API responses, so the row itself
// cannot round-trip through the cache.
type cachedKey struct {
	ID        string  `json:"id"`
	ClientID  string  `json:"client_id"`
	MachineID *string `json:"machine_id,omitempty"`
	IsActive  bool    `json:"is_active"`
}

// APIKeyAuth guards ingest. Lookups are cached under a digest of the raw
// key for ttl, so a disabled key keeps working for at most that long.
// last_used_at is only touched on cache misses and has the same granularity.
func APIKeyAuth(repo *db.Repository, cache *redisstore.Client, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-API-Key")
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			c.Abort()
			return
		}

		var key cachedKey
		if err := cache.GetCachedAPIKey(c.Request.Context(), raw, &key); err != nil {
			fresh, err := repo.GetAPIKeyByKey(raw)
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				c.Abort()
				return
			}
			if err != nil {
				logger.Error("Failed to look up API key", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				c.Abort()
				return
			}

			key = cachedKey{
				ID:        fresh.ID,
				ClientID:  fresh.ClientID,
				MachineID: fresh.MachineID,
				IsActive:  fresh.IsActive,
			}
			if err := cache.CacheAPIKey(c.Request.Context(), raw, key, ttl); err != nil {
				logger.Warn("Failed to cache API key", zap.Error(err))
			}
			if err := repo.TouchAPIKey(key.ID); err != nil {
				logger.Warn("Failed to touch API key", zap.Error(err))
			}
		}

		if !key.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API key disabled"})
			c.Abort()
			return
		}

		c.Set("client_id", key.ClientID)
		if key.MachineID != nil {
			c.Set("machine_id", *key.MachineID)
		}
		c.Next()
	}
}

// CORS is permissive, the operator UI is served from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-API-Key, X-Ingest-Id")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
