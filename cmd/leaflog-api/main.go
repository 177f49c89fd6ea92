package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leaflog/leaf-log/backend/internal/auth"
	"github.com/leaflog/leaf-log/backend/internal/config"
	"github.com/leaflog/leaf-log/backend/internal/database"
	"github.com/leaflog/leaf-log/backend/internal/logging"
	"github.com/leaflog/leaf-log/backend/internal/providers"
	"github.com/leaflog/leaf-log/backend/internal/server"
	"github.com/leaflog/leaf-log/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "leaflog-api",
		Short: "Leaf-log identity and API service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().Int("bcrypt-cost", defaults.GetInt("password.bcrypt_cost"), "bcrypt work factor for local passwords")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("frontend-callback-url", defaults.GetString("frontend.callback_url"), "Frontend URL receiving OAuth tokens")
	cmd.PersistentFlags().String("google-client-id", "", "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("kakao-client-id", "", "Kakao REST API key")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "password.bcrypt_cost", "bcrypt-cost")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "frontend.callback_url", "frontend-callback-url")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "kakao.client_id", "kakao-client-id")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	accessEnforcer, err := auth.NewAccessEnforcer(tokenIssuer)
	if err != nil {
		return err
	}
	hasher, err := auth.NewBcryptHasher(appConfig.BcryptCost)
	if err != nil {
		return err
	}

	store, err := users.NewStore(db)
	if err != nil {
		return err
	}
	identityService, err := users.NewService(users.ServiceConfig{
		Store:      store,
		Hasher:     hasher,
		Tokens:     tokenIssuer,
		IDProvider: users.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dependencies := server.Dependencies{
		Identities:          identityService,
		Access:              accessEnforcer,
		AllowedOrigins:      appConfig.AllowedOrigins,
		FrontendCallbackURL: appConfig.FrontendCallbackURL,
		SecureCookies:       appConfig.SecureCookies,
		Logger:              logger,
	}

	var exchangers []providers.Exchanger
	if appConfig.Google.Enabled() {
		googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			Audience:       appConfig.Google.ClientID,
			JWKSURL:        appConfig.GoogleJWKSURL,
			AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		googleExchanger, err := providers.NewGoogleExchanger(providers.GoogleConfig{
			ClientID:     appConfig.Google.ClientID,
			ClientSecret: appConfig.Google.ClientSecret,
			RedirectURL:  appConfig.Google.RedirectURL,
			Verifier:     googleVerifier,
		})
		if err != nil {
			return err
		}
		dependencies.GoogleVerifier = googleVerifier
		exchangers = append(exchangers, googleExchanger)
	}
	if appConfig.Kakao.Enabled() {
		kakaoExchanger, err := providers.NewKakaoExchanger(providers.KakaoConfig{
			ClientID:     appConfig.Kakao.ClientID,
			ClientSecret: appConfig.Kakao.ClientSecret,
			RedirectURL:  appConfig.Kakao.RedirectURL,
		})
		if err != nil {
			return err
		}
		exchangers = append(exchangers, kakaoExchanger)
	}
	registry, err := providers.NewRegistry(exchangers...)
	if err != nil {
		return err
	}
	dependencies.Providers = registry
	logger.Info("identity providers configured", zap.Strings("providers", registry.Names()))

	handler, err := server.NewHTTPHandler(dependencies)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
