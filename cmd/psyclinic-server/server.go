package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psyclinic/psyclinic/internal/config"
	"github.com/psyclinic/psyclinic/internal/domain/assessment"
	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
	"github.com/psyclinic/psyclinic/internal/platform/auth"
	"github.com/psyclinic/psyclinic/internal/platform/db"
	"github.com/psyclinic/psyclinic/internal/platform/middleware"
)

const (
	version        = "0.1.0"
	bulkBodyLimit  = "10M"
	requestTimeout = 30 * time.Second
)

// Endpoints whose POST bodies carry whole definitions or id lists.
var bulkPaths = []string{"/instruments", "/scoring/multiscale", "/batch/finalize"}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

type routes struct {
	assessment    *assessment.Handler
	scoring       *assessment.ScoringHandler
	normalization *normalization.Handler
	dbHealth      echo.HandlerFunc
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func newEcho(cfg *config.Config, logger zerolog.Logger, r routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, bulkBodyLimit, bulkPaths...))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if r.dbHealth != nil {
		e.GET("/health/db", r.dbHealth)
	}

	rateCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateCfg.RequestsPerSecond <= 0 || rateCfg.BurstSize <= 0 {
		rateCfg = middleware.DefaultRateLimitConfig()
	}

	api := e.Group("/api/v1")
	api.Use(authMiddleware(cfg))
	api.Use(middleware.RateLimit(rateCfg))
	api.Use(middleware.RequestTimeout(requestTimeout, "/batch/finalize"))
	api.Use(middleware.Audit(logger, nil))

	r.assessment.RegisterRoutes(api)
	r.scoring.RegisterRoutes(api)
	r.normalization.RegisterRoutes(api)
	return e
}

// openCache connects to REDIS_URL. An empty URL disables the norm cache.
func openCache(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tables := normalization.NewTableRepoPG(pool)
	cache, err := openCache(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("norm cache unavailable, reading tables from database")
	}
	if cache != nil {
		defer cache.Close()
		tables = normalization.NewCachedTableRepository(tables, cache, cfg.NormCacheTTL, logger)
		logger.Info().Dur("ttl", cfg.NormCacheTTL).Msg("norm cache enabled")
	}

	calc := calculation.NewEngine()
	normEngine := normalization.NewEngine()
	normSvc := normalization.NewService(tables, normEngine, logger)
	scorers := multiscale.NewRegistry(logger)
	assessSvc := assessment.NewService(
		assessment.NewInstrumentRepoPG(pool),
		assessment.NewAdministrationRepoPG(pool),
		calc, normSvc, scorers, logger,
	)

	e := newEcho(cfg, logger, routes{
		assessment:    assessment.NewHandler(assessSvc),
		scoring:       assessment.NewScoringHandler(calc, normEngine, logger),
		normalization: normalization.NewHandler(normSvc),
		dbHealth: db.HealthHandler(pool, func() *db.PoolStats {
			return db.GetPoolStats(pool)
		}, cache),
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

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
