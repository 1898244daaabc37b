package http

import (
	"log/slog"

	"github.com/frak-labs/framesession/service"
	"github.com/gin-gonic/gin"
)

// Header names carrying wallet credentials
const (
	HeaderWalletAuth    = "x-wallet-auth"
	HeaderWalletSdkAuth = "x-wallet-sdk-auth"
)

// SetupRouter sets up the Gin router. sessions may be nil when no RPC endpoint
// is configured, in which case the session status route is not registered.
func SetupRouter(authService *service.AuthService, sessions *service.InteractionSessions, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Create handlers
	handlers := NewAuthHandlers(authService, sessions)

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.POST("/logout", handlers.Logout)
	}

	// Scoped sdk token routes
	sdk := router.Group("/auth/sdk")
	{
		sdk.GET("/isValid", handlers.IsValid)
		sdk.POST("/fromSignature", handlers.FromSignature)
		sdk.GET("/generate", SessionMiddleware(authService), handlers.Generate)
	}

	// Interaction routes, authorized by an sdk token
	interactions := router.Group("/interactions")
	interactions.Use(SdkMiddleware(authService))
	{
		interactions.POST("/push", handlers.Push)
	}

	if sessions != nil {
		router.GET("/wallets/:wallet/session", handlers.SessionStatus)
	}

	return router
}
