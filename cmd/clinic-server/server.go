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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/backup"
	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/account"
	"github.com/clinic/clinic/internal/domain/bono"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/domain/settings"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/validate"
)

// infra holds the optional backing services. Zero values fall back to
// in-process implementations.
type infra struct {
	revocations auth.RevocationStore
	limiter     middleware.Limiter
	publisher   events.Publisher
	backups     *backup.Service
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
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

	var deps infra

	if cfg.RedisURL != "" {
		rdb, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		deps.revocations = auth.NewRedisRevocationStore(rdb)
		deps.limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitBurst)
		logger.Info().Msg("using redis for token revocation and rate limiting")
	} else {
		mem := auth.NewMemoryRevocationStore(time.Minute)
		defer mem.Close()
		deps.revocations = mem
	}

	if cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		defer pub.Close()
		deps.publisher = pub
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing domain events")
	}

	deps.backups, err = newBackupService(ctx, cfg, pool, db.NewTxManager(pool), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up backups")
	}

	e := buildServer(cfg, logger, pool, deps)

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

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func newBackupService(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, tx db.TxManager, logger zerolog.Logger) (*backup.Service, error) {
	var mirror backup.Mirror
	if cfg.MinioEnabled() {
		m, err := backup.NewMinioMirror(ctx, backup.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		mirror = m
	}
	return backup.NewService(backup.NewPGStore(pool, tx), cfg.BackupDir, mirror, logger), nil
}

// httpErrorHandler logs server-side failures before echo writes the response.
func httpErrorHandler(e *echo.Echo, logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", code).
				Msg("request failed")
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// buildServer wires middleware and every route. The pool is only used by
// handlers at request time.
func buildServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, deps infra) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = httpErrorHandler(e, logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	jwtCfg := auth.JWTConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  []byte(cfg.JWTSecret),
		TTL:         cfg.TokenTTL,
		Revocations: deps.revocations,
		Skipper:     auth.AuthSkipper,
		Logger:      logger,
	}
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Limiter:           deps.limiter,
		Logger:            logger,
	}
	api := e.Group("/api/v1", auth.JWTMiddleware(jwtCfg), middleware.RateLimit(rateLimitCfg))

	txm := db.NewTxManager(pool)

	patientSvc := patient.NewService(patient.NewRepo(pool))
	bonoSvc := bono.NewService(bono.NewRepo(pool), patientSvc, txm)
	schedulingSvc := scheduling.NewService(scheduling.Deps{
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		History:      scheduling.NewHistoryRepoPG(pool),
		Notes:        scheduling.NewNoteRepoPG(pool),
		Patients:     patientSvc,
		Bonos:        bono.NewLedger(bonoSvc),
		Tx:           txm,
		Events:       deps.publisher,
		Logger:       logger,
	})
	settingsSvc := settings.NewService(settings.NewRepo(pool))
	accountSvc := account.NewService(account.NewRepo(pool), auth.NewTokenIssuer(jwtCfg), deps.revocations, logger)

	account.NewHandler(accountSvc, settingsSvc).RegisterRoutes(api)
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	bono.NewHandler(bonoSvc).RegisterRoutes(api)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(api)
	settings.NewHandler(settingsSvc).RegisterRoutes(api)
	if deps.backups != nil {
		backup.NewHandler(deps.backups).RegisterRoutes(api)
	}

	return e
}
