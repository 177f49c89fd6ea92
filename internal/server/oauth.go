package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	stateCookieName    = "leaflog_oauth_state"
	verifierCookieName = "leaflog_oauth_verifier"
	oauthCookieMaxAge  = 10 * 60
)

// handleProviderRedirect starts the authorization code flow for the named provider.
func (h *httpHandler) handleProviderRedirect(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		exchanger, err := h.providers.Get(provider)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider_disabled"})
			return
		}

		state, err := newOAuthState()
		if err != nil {
			h.logger.Error("failed to generate oauth state", zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		verifier := oauth2.GenerateVerifier()

		h.setOAuthCookie(c, provider, stateCookieName, state, oauthCookieMaxAge)
		h.setOAuthCookie(c, provider, verifierCookieName, verifier, oauthCookieMaxAge)
		c.Redirect(http.StatusFound, exchanger.AuthCodeURL(state, verifier))
	}
}

// handleProviderCallback validates state, exchanges the code and resolves the identity.
func (h *httpHandler) handleProviderCallback(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		exchanger, err := h.providers.Get(provider)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider_disabled"})
			return
		}

		expectedState, stateErr := c.Cookie(stateCookieName)
		verifier, verifierErr := c.Cookie(verifierCookieName)
		h.setOAuthCookie(c, provider, stateCookieName, "", -1)
		h.setOAuthCookie(c, provider, verifierCookieName, "", -1)

		if providerErr := c.Query("error"); providerErr != "" {
			h.logger.Info("provider denied authorization", zap.String("provider", provider), zap.String("error", providerErr))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization_denied"})
			return
		}
		state := c.Query("state")
		if stateErr != nil || verifierErr != nil || state == "" ||
			subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
			h.logger.Warn("oauth state mismatch", zap.String("provider", provider))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
			return
		}
		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		assertion, err := exchanger.Exchange(c.Request.Context(), code, verifier)
		if err != nil {
			h.logger.Warn("provider exchange failed", zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		session, err := h.identities.ResolveProvider(c.Request.Context(), assertion)
		if err != nil {
			h.writeError(c, err)
			return
		}

		if h.frontendCallbackURL == "" {
			c.JSON(http.StatusOK, newSessionResponse(session))
			return
		}
		target, err := url.Parse(h.frontendCallbackURL)
		if err != nil {
			h.logger.Error("invalid frontend callback url", zap.String("url", h.frontendCallbackURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		query := target.Query()
		query.Set("token", session.Token)
		query.Set("expires_in", strconv.FormatInt(session.ExpiresIn, 10))
		target.RawQuery = query.Encode()
		c.Redirect(http.StatusFound, target.String())
	}
}

func (h *httpHandler) setOAuthCookie(c *gin.Context, provider, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/auth/"+provider, "", h.secureCookies, true)
}

func newOAuthState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
