// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/response"
	"attend-sync/internal/types"
)

// Logger logs each request with method, path, status and latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		entry := logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"latency": latency.String(),
			"ip":      c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Debug("Request handled")
		}
	}
}

// Recovery recovers from panics and returns a unified error response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"panic": r,
					"path":  c.Request.URL.Path,
				}).Error("Panic recovered")
				response.Error(c, app_errors.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORS applies the configured cross-origin policy.
func CORS(configManager types.ConfigManager) gin.HandlerFunc {
	corsCfg := configManager.GetCORSConfig()
	return func(c *gin.Context) {
		if !corsCfg.Enabled {
			c.Next()
			return
		}

		origin := c.Request.Header.Get("Origin")
		allowed := ""
		for _, o := range corsCfg.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = o
				break
			}
		}
		if allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", strings.Join(corsCfg.AllowedMethods, ", "))
			c.Header("Access-Control-Allow-Headers", strings.Join(corsCfg.AllowedHeaders, ", "))
			if corsCfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// Auth enforces the device auth key on protected routes. Comparison is
// constant time.
func Auth(configManager types.ConfigManager) gin.HandlerFunc {
	authCfg := configManager.GetAuthConfig()
	return func(c *gin.Context) {
		key := extractKey(c)
		if key == "" {
			response.Error(c, app_errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(authCfg.Key)) != 1 {
			response.Error(c, app_errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := c.GetHeader("X-Auth-Key"); key != "" {
		return key
	}
	return c.Query("key")
}
