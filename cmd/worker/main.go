package main

import (
	"context"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/funnel-api/internal/config"
	"github.com/noah-isme/funnel-api/internal/events"
	"github.com/noah-isme/funnel-api/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.ObsMetricsNamespace, nil)

	if cfg.ObsTracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "funnel-worker",
			Exporter:      cfg.ObsTracingExporter,
			Endpoint:      cfg.ObsOTLPEndpoint,
			SamplingRatio: cfg.ObsSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOpts.Addr,
			Username:  redisOpts.Username,
			Password:  redisOpts.Password,
			DB:        redisOpts.DB,
			TLSConfig: redisOpts.TLSConfig,
		},
		asynq.Config{
			Concurrency:     cfg.WorkerConcurrency,
			Queues:          map[string]int{cfg.EventsQueue: 1},
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          obs.AsynqLogger{Logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	events.Consumer{Sink: events.LogSink{Logger: logger}, Logger: logger}.Register(mux)

	logger.Info().Str("queue", cfg.EventsQueue).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}
