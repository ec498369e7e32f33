package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/vaidyasetu/vaidyasetu/internal/config"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/activity"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/mapping"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/record"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/suggest"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/auth"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/db"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/latest"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/llm"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/middleware"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/notify"
)

const version = "0.1.0"

func runServer() error {
	// Config
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: every request acts as the local user. Set ENV=production and AUTH_ISSUER before exposing this server.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer store.Close()
	logger.Info().Str("driver", store.driver).Msg("store ready")

	// Change bus
	var bus notify.Bus = notify.NewLocalBus()
	if cfg.RedisURL != "" {
		rb, err := notify.NewRedisBus(ctx, cfg.RedisURL, cfg.RedisChannel, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rb.Close()
		if err := rb.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to change channel")
		}
		bus = rb
		logger.Info().Str("channel", cfg.RedisChannel).Msg("change notifications fanned out through redis")
	}

	// Domain services
	ledger := mapping.NewStore(store.store, bus, logger)
	activityLog := activity.NewLog(store.store, bus, logger)
	mailbox := record.NewMailbox(store.store, bus)
	drafts := record.NewDraftStore(store.store, bus)

	codes := catalog.NewService(
		catalog.NewLoader(cfg.DatasetURL, cfg.DatasetCSVURL, cfg.DatasetXLSXPath, logger),
		ledger, logger)
	loaded := codes.Reload(ctx)
	logger.Info().Str("source", loaded.Source).Int("codes", loaded.Catalog.Len()).Msg("catalog loaded")
	if loaded.Warning != "" {
		logger.Warn().Str("warning", loaded.Warning).Msg("catalog degraded")
	}

	completer, err := llm.NewClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout(),
	}, logger)
	if errors.Is(err, llm.ErrNotConfigured) {
		logger.Warn().Msg("LLM_API_KEY not set: external suggestions disabled")
		completer = nil
	} else if err != nil {
		logger.Fatal().Err(err).Msg("failed to create completion client")
	}
	suggester := suggest.NewAdapter(completer, codes, logger).WithTimeout(cfg.LLMTimeout())

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", echo.HeaderXRequestID, suggest.HeaderClientID},
		ExposeHeaders: []string{echo.HeaderXRequestID, suggest.HeaderSuperseded, echo.HeaderContentDisposition},
	}))
	e.Use(middleware.BodyLimit("1M", "5M", "/api/v1/record/import", "/api/v1/ingest/csv"))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// API group
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	rateLimitCfg.MeteredPerMinute = cfg.SuggestPerMinute
	rateLimitCfg.MeteredPaths = []string{"/api/v1/suggest", "/api/v1/assistant"}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     version,
			"catalog":     codes.Status().Source,
			"suggestions": suggester.Available(),
		})
	})
	e.GET("/health/db", db.HealthHandler(store.driver, store.pinger))

	catalog.NewHandler(codes).RegisterRoutes(apiV1)
	mapping.NewHandler(ledger, codes, mailbox, activityLog).RegisterRoutes(apiV1)
	suggest.NewHandler(suggester, latest.NewTracker(), cfg.SuggestDebounce(), activityLog).
		WithWorkspace(codes, activityLog).
		RegisterRoutes(apiV1)
	record.NewHandler(mailbox, drafts, activityLog).RegisterRoutes(apiV1)
	activity.NewHandler(activityLog).RegisterRoutes(apiV1)
	apiV1.GET("/events", notify.StreamHandler(bus,
		mapping.Topic, activity.Topic, record.PrefillTopic, record.DraftsTopic))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
