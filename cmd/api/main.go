// Package main is the entrypoint for the signing gateway server.
package main

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/stebofarm/gateway/internal/cache"
	"github.com/stebofarm/gateway/internal/config"
	"github.com/stebofarm/gateway/internal/handler"
	"github.com/stebofarm/gateway/internal/keys"
	"github.com/stebofarm/gateway/internal/metrics"
	"github.com/stebofarm/gateway/internal/middleware"
	"github.com/stebofarm/gateway/internal/registry"
	"github.com/stebofarm/gateway/internal/repository"
	"github.com/stebofarm/gateway/internal/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Without the public key nothing can be verified; refuse to serve.
	publicKey, err := keys.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		logger.Error("failed to load public key", "path", cfg.PublicKeyPath, "error", err)
		os.Exit(1)
	}

	var (
		store       registry.Store
		storeHealth handler.HealthChecker
		repo        *repository.Repository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := registry.NewMemoryStore()
		store, storeHealth = mem, mem
		logger.Warn("using in-memory frontend registry; registrations are lost on restart")
	default:
		repo, err = repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		store, storeHealth = repo, repo
		logger.Info("connected to database")
	}

	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	} else {
		logger.Info("REDIS_URL not set; identity cache and rate limiting disabled")
	}

	recorder := metrics.NewInMemory()

	// Interfaces only receive the cache when it exists, so nil checks
	// downstream see a real nil.
	var (
		identities  registry.IdentityCache
		nonces      middleware.NonceStore
		limiter     middleware.RateLimiter
		cacheHealth handler.HealthChecker
	)
	if cacheClient != nil {
		identities, nonces, limiter, cacheHealth = cacheClient, cacheClient, cacheClient, cacheClient
	} else {
		nonces = cache.NewMemoryNonces()
	}

	reg := registry.New(store, identities, recorder, logger)

	r := setupRouter(routerDeps{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		publicKey: publicKey,
		recorder:  recorder,
		nonces:    nonces,
		limiter:   limiter,
		health: handler.NewHealthHandler(logger,
			handler.Dependency{Name: "database", Checker: storeHealth},
			handler.Dependency{Name: "redis", Checker: cacheHealth},
		),
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	if repo != nil {
		srv.OnShutdown("database", func(context.Context) error {
			repo.Close()
			return nil
		})
	}
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"store", cfg.StoreDriver,
		"replay_protection", cfg.SignatureReplayProtection,
		"bypass_prefixes", cfg.BypassPrefixes(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *registry.Registry
	publicKey *rsa.PublicKey
	recorder  *metrics.InMemoryRecorder
	nonces    middleware.NonceStore
	limiter   middleware.RateLimiter
	health    *handler.HealthHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	cfg := d.cfg
	h := handler.New()

	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.IsDevelopment = cfg.IsDevelopment()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        d.logger,
		Limiter:       d.limiter,
		Metrics:       d.recorder,
		Enabled:       cfg.RateLimitEnabled,
		FrontendRPM:   cfg.RateLimitRPM,
		FrontendBurst: cfg.RateLimitBurst,
		AdminRPS:      cfg.RateLimitAdminRPS,
		AdminBurst:    cfg.RateLimitAdminBurst,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Operational endpoints are registered outside the verifier.
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/metrics", handler.NewMetricsHandler(d.recorder).Metrics)

	// Everything below is verified unless its path matches a bypass prefix;
	// /admin/ is bypassed by default and guarded by the admin token instead.
	r.Group(func(r chi.Router) {
		r.Use(middleware.VerifySignature(middleware.SignatureConfig{
			Logger:           d.logger,
			Frontends:        d.registry,
			PublicKey:        d.publicKey,
			Metrics:          d.recorder,
			BypassPrefixes:   cfg.BypassPrefixes(),
			MaxBodySize:      cfg.MaxRequestBodySize,
			ReplayProtection: cfg.SignatureReplayProtection,
			ReplayWindow:     cfg.SignatureReplayWindow,
			Nonces:           d.nonces,
		}))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RateLimitIP(rateLimitCfg))
			r.Use(middleware.RequireAdmin(middleware.AdminConfig{
				Logger:    d.logger,
				TokenHash: cfg.AdminTokenHash,
			}))
			r.Post("/frontends", handler.NewFrontendHandler(d.registry, d.logger).Register)
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.RateLimitFrontend(rateLimitCfg))
			r.Get("/ping", handler.Ping)
			r.Post("/ping", handler.Ping)
		})
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
