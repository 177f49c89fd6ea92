package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leaflog/leaf-log/backend/internal/auth"
	"go.uber.org/zap"
)

const identityContextKey = "leaflog_identity"

// requireIdentity rejects the request unless it carries a valid bearer token.
func (h *httpHandler) requireIdentity(c *gin.Context) {
	ref, err := h.access.Mandatory(auth.BearerToken(c.Request))
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, ref)
	c.Next()
}

// optionalIdentity attaches the bearer identity when one is valid and never rejects.
func (h *httpHandler) optionalIdentity(c *gin.Context) {
	if ref, ok := h.access.Optional(auth.BearerToken(c.Request)); ok {
		c.Set(identityContextKey, ref)
	}
	c.Next()
}

func (h *httpHandler) logTokenFailure(err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		h.logger.Debug("token validation failed", zap.Error(err))
	case errors.Is(err, auth.ErrExpiredToken):
		h.logger.Info("token validation failed", zap.Error(err))
	default:
		h.logger.Warn("token validation failed", zap.Error(err))
	}
}

func identityFromContext(c *gin.Context) (auth.IdentityRef, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.IdentityRef{}, false
	}
	ref, ok := value.(auth.IdentityRef)
	return ref, ok
}
