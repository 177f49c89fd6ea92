package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "LEAFLOG"
	defaultHTTPAddress    = "0.0.0.0:3000"
	defaultDatabasePath   = "leaflog.db"
	defaultLogLevel       = "info"
	defaultTokenIssuer    = "leaflog-auth"
	defaultTokenAudience  = "leaflog-api"
	defaultTokenTTL       = 7 * 24 * 60
	defaultBcryptCost     = 10
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	defaultFrontendOrigin = "http://localhost:5173"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	TokenIssuer         string
	TokenAudience       string
	TokenTTL            time.Duration
	BcryptCost          int
	AllowedOrigins      []string
	FrontendCallbackURL string
	SecureCookies       bool
	Google              ProviderConfig
	GoogleJWKSURL       string
	Kakao               ProviderConfig
}

// ProviderConfig holds OAuth client credentials for one identity provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether the provider has a client id configured.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("password.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("cors.allowed_origins", []string{defaultFrontendOrigin})
	configViper.SetDefault("frontend.callback_url", defaultFrontendOrigin+"/auth/callback")
	configViper.SetDefault("cookies.secure", true)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)

	for _, key := range []string{
		"auth.signing_secret",
		"google.client_id", "google.client_secret", "google.redirect_url",
		"kakao.client_id", "kakao.client_secret", "kakao.redirect_url",
	} {
		_ = configViper.BindEnv(key)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		TokenIssuer:         configViper.GetString("auth.issuer"),
		TokenAudience:       configViper.GetString("auth.audience"),
		TokenTTL:            time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		BcryptCost:          configViper.GetInt("password.bcrypt_cost"),
		AllowedOrigins:      splitList(configViper.GetStringSlice("cors.allowed_origins")),
		FrontendCallbackURL: strings.TrimSpace(configViper.GetString("frontend.callback_url")),
		SecureCookies:       configViper.GetBool("cookies.secure"),
		Google: ProviderConfig{
			ClientID:     configViper.GetString("google.client_id"),
			ClientSecret: configViper.GetString("google.client_secret"),
			RedirectURL:  configViper.GetString("google.redirect_url"),
		},
		GoogleJWKSURL: configViper.GetString("google.jwks_url"),
		Kakao: ProviderConfig{
			ClientID:     configViper.GetString("kakao.client_id"),
			ClientSecret: configViper.GetString("kakao.client_secret"),
			RedirectURL:  configViper.GetString("kakao.redirect_url"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.Google.Enabled() && (strings.TrimSpace(c.Google.ClientSecret) == "" || strings.TrimSpace(c.Google.RedirectURL) == "") {
		return fmt.Errorf("google.client_secret and google.redirect_url are required when google.client_id is set")
	}
	if c.Kakao.Enabled() && strings.TrimSpace(c.Kakao.RedirectURL) == "" {
		return fmt.Errorf("kakao.redirect_url is required when kakao.client_id is set")
	}
	return nil
}

// splitList accepts both list values and comma separated env strings.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
