package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"consultancy/api/internal/cache"
	"consultancy/api/internal/config"
	"consultancy/api/internal/log"
	"consultancy/api/internal/worker/queue"
	"consultancy/api/internal/worker/tasks"
)

type runner interface {
	Start(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.Component(log.New(cfg.Environment), "worker")

	var sender tasks.Sender
	switch cfg.Mail.Sender {
	case "smtp":
		sender = tasks.NewSMTPSender(cfg.Mail.SMTP, cfg.Mail.From)
	default:
		sender = tasks.NewLogSender(logger)
	}
	processor := tasks.NewProcessor(sender, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var consumer runner
	switch cfg.Mail.Transport {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()

		consumer = queue.NewConsumer(
			client,
			cfg.Mail.Stream,
			cfg.Mail.Group,
			cfg.Mail.Consumer,
			cfg.Mail.ClaimInterval,
			logger,
			processor,
		)
	case "amqp":
		consumer = queue.NewAMQPConsumer(cfg.Mail.AMQPURL, cfg.Mail.AMQPQueue, logger, processor)
	default:
		logger.Warn().Str("transport", cfg.Mail.Transport).Msg("mail transport has no queue to consume; exiting")
		return
	}

	logger.Info().
		Str("transport", cfg.Mail.Transport).
		Str("sender", cfg.Mail.Sender).
		Msg("mail worker started")

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
	}
	logger.Info().Msg("shutdown signal received")
}
