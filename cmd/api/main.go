package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"consultancy/api/internal/cache"
	"consultancy/api/internal/config"
	"consultancy/api/internal/database"
	"consultancy/api/internal/handlers"
	"consultancy/api/internal/jobs"
	"consultancy/api/internal/log"
	"consultancy/api/internal/mailer"
	"consultancy/api/internal/middleware"
	"consultancy/api/internal/repository"
	"consultancy/api/internal/security"
	"consultancy/api/internal/server"
	"consultancy/api/internal/service"
	"consultancy/api/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool, logger); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	checks := []handlers.HealthCheck{
		{Name: "database", Ping: dbPool.Ping},
		{Name: "cache", Ping: cache.Ping(redisClient)},
	}

	var exporter service.Exporter
	if cfg.Storage.Enabled {
		objectStore, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure export bucket failed")
		}
		exporter = objectStore
		checks = append(checks, handlers.HealthCheck{Name: "storage", Ping: objectStore.Ping})
	}

	if cfg.Security.RefreshSecretShared() {
		logger.Warn().Msg("security.jwtrefreshsecret is empty; refresh tokens are signed with the access secret")
	}
	codec, err := security.NewTokenCodec(security.TokenCodecConfig{
		AccessSecret:  cfg.Security.JWTAccessSecret,
		RefreshSecret: cfg.Security.RefreshSecret(),
		AccessTTL:     cfg.Security.JWTAccessTTL,
		RefreshTTL:    cfg.Security.JWTRefreshTTL,
		MFATTL:        cfg.Security.MFATokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("token codec init failed")
	}
	hasher, err := security.NewPasswordHasher(cfg.Security.BcryptCost, cfg.Security.HashConcurrency)
	if err != nil {
		logger.Fatal().Err(err).Msg("password hasher init failed")
	}

	publisher, closePublisher := newMailPublisher(cfg.Mail, redisClient, logger)
	mail := mailer.New(publisher, cfg.Mail.BaseURL, log.Component(logger, "mailer"))

	users := repository.NewUserRepository(dbPool)
	sessions := repository.NewSessionRepository(dbPool)
	tokens := repository.NewVerificationRepository(dbPool)
	tx := repository.NewTxManager(dbPool)

	authService := service.NewAuthService(service.AuthDeps{
		Users:    users,
		Sessions: sessions,
		Tokens:   tokens,
		Tx:       tx,
		Codec:    codec,
		Hasher:   hasher,
		TOTP:     security.NewTOTP(cfg.Security.MFAIssuer),
		Replay:   cache.NewReplayGuard(redisClient, "mfa"),
		Mailer:   mail,
		Exporter: exporter,
		Log:      log.Component(logger, "auth"),
	}, cfg.Security)
	adminService := service.NewAdminService(users, sessions, tx, log.Component(logger, "admin"))

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:         logger,
		Environment: cfg.Environment,
		Auth:        authService,
		Admin:       adminService,
		Tokens:      codec,
		RateLimit:   newRateLimit(cfg.RateLimit, redisClient, logger),
		Checks:      checks,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(cfg.Jobs.CleanupSpec, log.Component(logger, "jobs"),
		jobs.SweepTarget{Name: "sessions", Sweeper: sessions},
		jobs.SweepTarget{Name: "verification_tokens", Sweeper: tokens},
	)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient, closePublisher)
}

func newMailPublisher(cfg config.MailConfig, client *redis.Client, logger zerolog.Logger) (mailer.Publisher, func() error) {
	switch cfg.Transport {
	case "amqp":
		publisher := mailer.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		return publisher, publisher.Close
	case "log":
		return mailer.NewLogPublisher(log.Component(logger, "mailer")), func() error { return nil }
	default:
		return mailer.NewStreamPublisher(client, cfg.Stream), func() error { return nil }
	}
}

func newRateLimit(cfg config.RateLimitConfig, client *redis.Client, logger zerolog.Logger) gin.HandlerFunc {
	var limiter middleware.Limiter
	switch cfg.Backend {
	case "memory":
		limiter = middleware.NewMemoryLimiter(cfg)
	default:
		limiter = middleware.NewRedisLimiter(client, cfg)
	}
	return middleware.RateLimit(limiter, cfg, log.Component(logger, "ratelimit"))
}

func waitForShutdown(
	logger zerolog.Logger,
	srv *server.HTTPServer,
	scheduler *jobs.Scheduler,
	db *pgxpool.Pool,
	redisClient *redis.Client,
	closePublisher func() error,
) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	<-scheduler.Stop().Done()

	if err := closePublisher(); err != nil {
		logger.Error().Err(err).Msg("mail publisher close error")
	}
	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
