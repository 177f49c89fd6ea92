package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leaflog/leaf-log/backend/internal/auth"
	"github.com/leaflog/leaf-log/backend/internal/database"
	"github.com/leaflog/leaf-log/backend/internal/providers"
	"github.com/leaflog/leaf-log/backend/internal/users"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningSecret = "server-test-secret"
	testIssuer        = "leaflog-auth"
	testAudience      = "leaflog-api"
	jsonContentType   = "application/json"
)

type testEnvironment struct {
	handler  http.Handler
	service  *users.Service
	enforcer *auth.AccessEnforcer
}

type environmentOptions struct {
	exchangers          []providers.Exchanger
	googleVerifier      GoogleVerifier
	frontendCallbackURL string
	logger              *zap.Logger
}

func newTestEnvironment(t *testing.T, options environmentOptions) testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	store, err := users.NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	issuer := newTestTokenIssuer(t, time.Now)
	service, err := users.NewService(users.ServiceConfig{
		Store:  store,
		Hasher: hasher,
		Tokens: issuer,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	enforcer, err := auth.NewAccessEnforcer(issuer)
	if err != nil {
		t.Fatalf("failed to create enforcer: %v", err)
	}
	registry, err := providers.NewRegistry(options.exchangers...)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler, err := NewHTTPHandler(Dependencies{
		Identities:          service,
		Access:              enforcer,
		Providers:           registry,
		GoogleVerifier:      options.googleVerifier,
		AllowedOrigins:      []string{"https://app.leaf-log.test"},
		FrontendCallbackURL: options.frontendCallbackURL,
		SecureCookies:       true,
		Logger:              logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testEnvironment{handler: handler, service: service, enforcer: enforcer}
}

func newTestTokenIssuer(t *testing.T, clock func() time.Time) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	return issuer
}

func performJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body == nil {
		payload = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, payload)
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func registerUser(t *testing.T, handler http.Handler, email, nickname string) sessionResponsePayload {
	t.Helper()
	recorder := performJSON(t, handler, http.MethodPost, "/auth/register", map[string]any{
		"email":    email,
		"password": "secret-password",
		"nickname": nickname,
	}, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register %s: unexpected status %d body %s", email, recorder.Code, recorder.Body.String())
	}
	var response sessionResponsePayload
	decodeBody(t, recorder, &response)
	return response
}
