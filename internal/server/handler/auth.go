// Package handler implements the daemon's HTTP API: read-only gate and ledger
// queries for operational tooling, operator-authenticated approvals, and the
// fact endpoints.
package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/identity"
)

// operatorIDKey is the gin context key the auth middleware stores the
// verified operator id under.
const operatorIDKey = "operator_id"

// AuthHandler issues operator session tokens against the configured admin
// secret.
type AuthHandler struct {
	tokens      *identity.OperatorTokenIssuer
	adminSecret string
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler. An empty adminSecret disables login
// entirely.
func NewAuthHandler(tokens *identity.OperatorTokenIssuer, adminSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, adminSecret: adminSecret, logger: logger}
}

// Register mounts the auth routes.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.Login)
}

type loginRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}

// Login exchanges the admin secret for an operator session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator_id and secret are required"})
		return
	}

	if h.adminSecret == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "operator login is not configured"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		h.logger.Warn("operator login rejected", zap.String("operator_id", req.OperatorID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(req.OperatorID, "operator")
	if err != nil {
		h.logger.Error("issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "operator_id": req.OperatorID})
}

// RequireOperator returns middleware that verifies a Bearer operator token
// and stores the operator id in the request context.
func RequireOperator(tokens *identity.OperatorTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator token required"})
			return
		}
		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
			return
		}
		c.Set(operatorIDKey, claims.OperatorID)
		c.Next()
	}
}

// operatorID returns the verified operator id stored by RequireOperator.
func operatorID(c *gin.Context) string {
	return c.GetString(operatorIDKey)
}
