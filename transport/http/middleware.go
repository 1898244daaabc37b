package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/service"
	"github.com/gin-gonic/gin"
)

const (
	contextSessionToken = "sessionToken"
	contextSdkToken     = "sdkToken"
	contextWallet       = "wallet"
)

// SessionMiddleware requires a valid full session token in the x-wallet-auth header
func SessionMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderWalletAuth)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing session token"})
			return
		}

		claims, err := authService.ValidateSession(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, core.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(contextSessionToken, token)
		c.Set(contextWallet, claims.Wallet.Hex())

		c.Next()
	}
}

// SdkMiddleware requires a valid sdk token in the x-wallet-sdk-auth header
func SdkMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderWalletSdkAuth)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing sdk token"})
			return
		}

		valid, err := authService.IsValid(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate token"})
			return
		}
		if !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(contextSdkToken, token)

		c.Next()
	}
}

// RequestLogger logs every request once it completed
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
