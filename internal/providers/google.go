package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leaflog/leaf-log/backend/internal/auth"
	"github.com/leaflog/leaf-log/backend/internal/users"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// GoogleProviderName tags identities created through Google.
const GoogleProviderName = "google"

// IDTokenVerifier validates Google ID tokens.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.GoogleClaims, error)
}

// GoogleConfig configures the Google authorization code flow.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides Google's endpoints; zero uses endpoints.Google.
	Endpoint oauth2.Endpoint
	Verifier IDTokenVerifier
}

// GoogleExchanger exchanges Google authorization codes and verifies the returned ID token.
type GoogleExchanger struct {
	oauth    *oauth2.Config
	verifier IDTokenVerifier
}

// NewGoogleExchanger validates configuration.
func NewGoogleExchanger(cfg GoogleConfig) (*GoogleExchanger, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" || strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("providers: google client id, secret and redirect url are required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("providers: google id token verifier is required")
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	return &GoogleExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		verifier: cfg.Verifier,
	}, nil
}

func (g *GoogleExchanger) Name() string {
	return GoogleProviderName
}

func (g *GoogleExchanger) AuthCodeURL(state, verifier string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

func (g *GoogleExchanger) Exchange(ctx context.Context, code, verifier string) (users.ProviderAssertion, error) {
	token, err := g.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return users.ProviderAssertion{}, fmt.Errorf("%w: google token exchange: %w", ErrExchangeFailed, err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return users.ProviderAssertion{}, fmt.Errorf("%w: google did not return an id_token", ErrExchangeFailed)
	}
	claims, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return users.ProviderAssertion{}, fmt.Errorf("%w: google id_token verification: %w", ErrExchangeFailed, err)
	}
	return GoogleAssertion(claims), nil
}

// GoogleAssertion converts verified ID token claims into a provider assertion.
func GoogleAssertion(claims auth.GoogleClaims) users.ProviderAssertion {
	return users.ProviderAssertion{
		Provider:    GoogleProviderName,
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
	}
}
