package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/leaflog/leaf-log/backend/internal/auth"
	"github.com/leaflog/leaf-log/backend/internal/providers"
	"github.com/leaflog/leaf-log/backend/internal/users"
	"go.uber.org/zap"
)

var (
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingAccessEnforcer  = errors.New("access enforcer dependency required")
)

// IdentityService resolves credentials and provider assertions to identities.
type IdentityService interface {
	RegisterLocal(ctx context.Context, registration users.Registration) (users.Session, error)
	AuthenticateLocal(ctx context.Context, email, password string) (users.Session, error)
	ResolveProvider(ctx context.Context, assertion users.ProviderAssertion) (users.Session, error)
	GetIdentity(ctx context.Context, id string) (users.Identity, error)
}

// GoogleVerifier validates Google ID tokens posted by the browser sign-in button.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// Dependencies wires the HTTP handler. Providers and GoogleVerifier are optional.
type Dependencies struct {
	Identities          IdentityService
	Access              *auth.AccessEnforcer
	Providers           *providers.Registry
	GoogleVerifier      GoogleVerifier
	AllowedOrigins      []string
	FrontendCallbackURL string
	SecureCookies       bool
	Logger              *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}
	if deps.Access == nil {
		return nil, errMissingAccessEnforcer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Providers
	if registry == nil {
		empty, err := providers.NewRegistry()
		if err != nil {
			return nil, err
		}
		registry = empty
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		identities:          deps.Identities,
		access:              deps.Access,
		providers:           registry,
		verifier:            deps.GoogleVerifier,
		frontendCallbackURL: strings.TrimSpace(deps.FrontendCallbackURL),
		secureCookies:       deps.SecureCookies,
		logger:              logger,
	}

	router.GET("/healthz", handler.handleHealth)

	authRoutes := router.Group("/auth")
	authRoutes.POST("/register", handler.handleRegister)
	authRoutes.POST("/login", handler.handleLogin)
	authRoutes.POST("/google", handler.handleGoogleAuth)
	authRoutes.GET("/me", handler.requireIdentity, handler.handleMe)
	for _, name := range registry.Names() {
		authRoutes.GET("/"+name, handler.handleProviderRedirect(name))
		authRoutes.GET("/"+name+"/callback", handler.handleProviderCallback(name))
	}

	router.GET("/users/:id", handler.optionalIdentity, handler.handleGetProfile)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	identities          IdentityService
	access              *auth.AccessEnforcer
	providers           *providers.Registry
	verifier            GoogleVerifier
	frontendCallbackURL string
	secureCookies       bool
	logger              *zap.Logger
}

type registerRequestPayload struct {
	Email           string `json:"email" binding:"required,email,max=320"`
	Password        string `json:"password" binding:"required,min=6,max=72"`
	Nickname        string `json:"nickname" binding:"required,max=64"`
	ProfileImageURL string `json:"profileImageUrl" binding:"omitempty,url,max=512"`
	Bio             string `json:"bio" binding:"max=1024"`
}

type loginRequestPayload struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type googleAuthRequestPayload struct {
	IDToken string `json:"id_token" binding:"required"`
}

type userPayload struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Nickname        string    `json:"nickname"`
	ProfileImageURL *string   `json:"profileImageUrl"`
	Bio             *string   `json:"bio"`
	Provider        string    `json:"provider"`
	CreatedAt       time.Time `json:"createdAt"`
}

type sessionResponsePayload struct {
	User      userPayload `json:"user"`
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	TokenType string      `json:"token_type"`
}

type profileResponsePayload struct {
	ID              string    `json:"id"`
	Email           string    `json:"email,omitempty"`
	Nickname        string    `json:"nickname"`
	ProfileImageURL *string   `json:"profileImageUrl"`
	Bio             *string   `json:"bio"`
	CreatedAt       time.Time `json:"createdAt"`
	IsSelf          bool      `json:"is_self"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.identities.RegisterLocal(c.Request.Context(), users.Registration{
		Email:           request.Email,
		Password:        request.Password,
		Nickname:        request.Nickname,
		ProfileImageURL: request.ProfileImageURL,
		Bio:             request.Bio,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionResponse(session))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.identities.AuthenticateLocal(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider_disabled"})
		return
	}
	var request googleAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	session, err := h.identities.ResolveProvider(c.Request.Context(), providers.GoogleAssertion(claims))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *httpHandler) handleMe(c *gin.Context) {
	ref, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.identities.GetIdentity(c.Request.Context(), ref.UserID)
	if errors.Is(err, users.ErrNotFound) {
		// The token outlived its identity.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newUserPayload(identity)})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	identity, err := h.identities.GetIdentity(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	ref, authenticated := identityFromContext(c)
	isSelf := authenticated && ref.UserID == identity.ID
	response := profileResponsePayload{
		ID:              identity.ID,
		Nickname:        identity.Nickname,
		ProfileImageURL: identity.ProfileImageURL,
		Bio:             identity.Bio,
		CreatedAt:       identity.CreatedAt,
		IsSelf:          isSelf,
	}
	if isSelf {
		response.Email = identity.Email
	}
	c.JSON(http.StatusOK, response)
}

// writeError maps resolver outcomes to HTTP responses. Anything outside the
// user-facing taxonomy is a system failure.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var conflict *users.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "field": string(conflict.Field)})
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, users.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, users.ErrInvalidAssertion):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_assertion"})
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func newSessionResponse(session users.Session) sessionResponsePayload {
	return sessionResponsePayload{
		User:      newUserPayload(session.Identity),
		Token:     session.Token,
		ExpiresIn: session.ExpiresIn,
		TokenType: "Bearer",
	}
}

func newUserPayload(identity users.Identity) userPayload {
	return userPayload{
		ID:              identity.ID,
		Email:           identity.Email,
		Nickname:        identity.Nickname,
		ProfileImageURL: identity.ProfileImageURL,
		Bio:             identity.Bio,
		Provider:        identity.Provider,
		CreatedAt:       identity.CreatedAt,
	}
}
