package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/vibecode-sh/vibecode-server/internal/api"
	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/config"
	"github.com/vibecode-sh/vibecode-server/internal/credential"
	"github.com/vibecode-sh/vibecode-server/internal/digitalocean"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/hub"
	"github.com/vibecode-sh/vibecode-server/internal/identity"
	"github.com/vibecode-sh/vibecode-server/internal/postgres"
	"github.com/vibecode-sh/vibecode-server/internal/reconcile"
	"github.com/vibecode-sh/vibecode-server/internal/redis"
	"github.com/vibecode-sh/vibecode-server/internal/session"
	"github.com/vibecode-sh/vibecode-server/internal/sshkey"
)

const redisDialTimeout = 5 * time.Second

func main() {
	// Missing .env is fine; production injects the environment directly.
	_ = godotenv.Load()

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting vibecode server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is a wildcard. Set an explicit origin for production deployments.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := redis.Connect(ctx, cfg.RedisURL, redisDialTimeout)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Repositories.
	identityRepo := identity.NewPGRepository(db, log.Logger)
	hostRepo := host.NewPGRepository(db, log.Logger)
	gatewayRepo := gateway.NewPGRepository(db, log.Logger)
	sessionRepo := session.NewPGRepository(db, log.Logger)
	keyRepo := sshkey.NewPGRepository(db, log.Logger)
	credRepo := credential.NewPGRepository(db, log.Logger)

	// Relay hubs. The bridge mirrors connection and session state into the store off the hot path.
	bridge := hub.NewStoreBridge(gatewayRepo, hostRepo, sessionRepo, log.Logger)
	defer bridge.Close()
	metrics := hub.NewMetrics(prometheus.DefaultRegisterer)
	registry := hub.NewRegistry(hub.Options{
		CommandTimeout: cfg.CommandTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		IdleSweep:      cfg.IdleSweep,
		ReconnectGrace: cfg.ReconnectGrace,
		MaxTextBytes:   cfg.MaxTextBytes,
		MaxBinaryBytes: cfg.MaxBinaryBytes,
	}, bridge, metrics, log.Logger)

	// DigitalOcean. Without OAuth credentials the provisioning surface reports itself unavailable and the reconciler
	// skips cloud repairs; manually attached hosts keep working.
	var (
		doClient *digitalocean.Client
		doCfg    *oauth2.Config
		tokens   *digitalocean.TokenStore
	)
	if cfg.ProviderConfigured() {
		doClient = digitalocean.NewClient(cfg.DOAPIBaseURL, log.Logger)
		doCfg = digitalocean.OAuthConfig(cfg.DOOAuthClientID, cfg.DOOAuthClientSecret,
			cfg.PublicBaseURL+"/auth/callback/connect/digitalocean")
		tokens = digitalocean.NewTokenStore(credRepo, doCfg, cfg.HostTokenKEK, log.Logger)
	} else {
		log.Warn().Msg("DigitalOcean OAuth not configured, provisioning disabled")
	}

	var (
		reconcileProvider reconcile.Provider
		reconcileTokens   reconcile.TokenSource
		hostProvider      api.Provider
		hostTokens        api.TokenSource
	)
	if doClient != nil {
		reconcileProvider, reconcileTokens = doClient, tokens
		hostProvider, hostTokens = doClient, tokens
	}

	reconciler := reconcile.New(hostRepo, gatewayRepo, reconcileProvider, reconcileTokens, cfg.ReconcileInterval, log.Logger)
	reconciler.Start()
	defer reconciler.Stop()

	app := fiber.New(fiber.Config{
		AppName: "vibecode",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "internal error"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{Error: message})
		},
	})

	app.Use(requestid.New())
	skipPaths := []string{"/metrics"}
	if !cfg.LogHealthRequests {
		skipPaths = append(skipPaths, "/api/v1/health")
	}
	app.Use(httputil.RequestLogger(log.Logger, skipPaths...))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{cfg.CORSAllowOrigins},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	provisionOpts := api.ProvisionOptions{
		Region:        cfg.ProvisionRegion,
		Size:          cfg.ProvisionSize,
		Image:         cfg.ProvisionImage,
		Timeout:       cfg.ProvisionTimeout,
		PublicBaseURL: cfg.PublicBaseURL,
		DownloadURL:   cfg.GatewayDownloadURL,
		BootstrapTTL:  cfg.BootstrapTokenTTL,
	}
	authOpts := api.AuthOptions{
		CookieSecret:  cfg.SessionCookieSecret,
		CookieTTL:     cfg.SessionCookieTTL,
		SecureCookies: !cfg.IsDevelopment(),
		PublicBaseURL: cfg.PublicBaseURL,
	}
	providers := []*auth.Provider{
		auth.NewGitHubProvider(cfg.GitHubOAuthClientID, cfg.GitHubOAuthClientSecret,
			cfg.PublicBaseURL+"/auth/callback/github"),
		auth.NewGoogleProvider(cfg.GoogleOAuthClientID, cfg.GoogleOAuthClientSecret,
			cfg.PublicBaseURL+"/auth/callback/google"),
	}
	var credStore api.CredentialStore
	if tokens != nil {
		credStore = tokens
	}

	api.RegisterRoutes(app, api.Handlers{
		Auth:     api.NewAuthHandler(providers, identityRepo, doCfg, credStore, rdb, authOpts, log.Logger),
		Hosts:    api.NewHostHandler(hostRepo, gatewayRepo, registry, hostProvider, hostTokens, rdb, cfg.GatewayTokenSalt, provisionOpts, log.Logger),
		Sessions: api.NewSessionHandler(hostRepo, sessionRepo, gatewayRepo, registry, log.Logger),
		SSHKeys:  api.NewSSHKeyHandler(hostRepo, keyRepo, gatewayRepo, registry, log.Logger),
		Files:    api.NewFileHandler(hostRepo, gatewayRepo, registry, log.Logger),
		Agents:   api.NewAgentHandler(hostRepo, gatewayRepo, registry, log.Logger),
		Terminal: api.NewTerminalHandler(hostRepo, sessionRepo, gatewayRepo, registry, log.Logger),
		Gateway:  api.NewGatewayConnectHandler(gatewayRepo, registry, rdb, cfg.GatewayTokenSalt, cfg.PublicBaseURL, log.Logger),
		Health:   api.NewHealthHandler(db, rdb, log.Logger),
	}, cfg.SessionCookieSecret, cfg.DevAuthEnabled())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(shutdownCtx)
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	// Sever every live hub connection after the listener stops accepting; deferred stops then drain the reconciler
	// and the store bridge.
	registry.CloseAll()
	return nil
}
