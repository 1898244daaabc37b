package http

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/service"
	"github.com/gin-gonic/gin"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	sessions    *service.InteractionSessions
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, sessions *service.InteractionSessions) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		sessions:    sessions,
	}
}

// Challenge handles the challenge request
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, message, err := h.authService.CreateChallenge(req.Address)
	if err != nil {
		writeError(c, err, "Failed to create challenge")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "message": message})
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		ChallengeToken string        `json:"challengeToken" binding:"required"`
		Signature      hexutil.Bytes `json:"signature" binding:"required"`
		Address        string        `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.authService.Login(c.Request.Context(), req.ChallengeToken, req.Signature, req.Address)
	if err != nil {
		writeError(c, err, "Authentication failed")
		return
	}

	c.JSON(http.StatusOK, session)
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.Token); err != nil {
		// Even if expired, we'll consider logout successful
		if errors.Is(err, core.ErrTokenExpired) {
			c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
			return
		}
		writeError(c, err, "Failed to logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// IsValid reports whether the sdk token in the x-wallet-sdk-auth header is usable
func (h *AuthHandlers) IsValid(c *gin.Context) {
	token := c.GetHeader(HeaderWalletSdkAuth)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"isValid": false})
		return
	}

	valid, err := h.authService.IsValid(c.Request.Context(), token)
	if err != nil {
		writeError(c, err, "Failed to validate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"isValid": valid})
}

// FromSignature exchanges a signature proof for an sdk token
func (h *AuthHandlers) FromSignature(c *gin.Context) {
	var proof core.SignatureProof
	if err := c.ShouldBindJSON(&proof); err != nil || len(proof.Challenge) == 0 || len(proof.Signature) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sdk, err := h.authService.SdkFromSignature(c.Request.Context(), &proof)
	if err != nil {
		writeError(c, err, "Failed to create sdk token")
		return
	}

	c.JSON(http.StatusOK, sdk)
}

// Generate mints an sdk token from the session set by SessionMiddleware
func (h *AuthHandlers) Generate(c *gin.Context) {
	token := c.GetString(contextSessionToken)

	sdk, err := h.authService.SdkFromSession(c.Request.Context(), token)
	if err != nil {
		writeError(c, err, "Failed to create sdk token")
		return
	}

	c.JSON(http.StatusOK, sdk)
}

// Push publishes interactions authorized by the sdk token set by SdkMiddleware
func (h *AuthHandlers) Push(c *gin.Context) {
	var req struct {
		Interactions []core.PendingInteraction `json:"interactions" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ids, err := h.authService.PushInteractions(c.Request.Context(), c.GetString(contextSdkToken), req.Interactions)
	if err != nil {
		writeError(c, err, "Failed to push interactions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"delegationIds": ids})
}

// SessionStatus returns the on-chain interaction session of a wallet
func (h *AuthHandlers) SessionStatus(c *gin.Context) {
	raw := c.Param("wallet")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet"})
		return
	}
	wallet := common.HexToAddress(raw)

	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"session": h.sessions.Status(ctx, wallet),
		"state":   h.sessions.State(ctx, wallet),
	})
}

// writeError maps domain errors to status codes
func writeError(c *gin.Context, err error, fallback string) {
	statusCode := http.StatusInternalServerError
	errorMsg := fallback

	switch {
	case errors.Is(err, core.ErrInvalidChallenge):
		statusCode = http.StatusBadRequest
		errorMsg = "Invalid challenge"
	case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrInvalidScope):
		statusCode = http.StatusUnauthorized
		errorMsg = "Invalid token"
	case errors.Is(err, core.ErrTokenExpired):
		statusCode = http.StatusUnauthorized
		errorMsg = "Token expired"
	case errors.Is(err, core.ErrTokenInvalidated):
		statusCode = http.StatusUnauthorized
		errorMsg = "Token has been invalidated"
	case errors.Is(err, core.ErrInvalidSignature):
		statusCode = http.StatusUnauthorized
		errorMsg = "Invalid signature"
	}

	c.JSON(statusCode, gin.H{"error": errorMsg})
}
