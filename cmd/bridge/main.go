// The bridge service drains a RabbitMQ queue into BigQuery tables, one
// HTTP-triggered invocation at a time.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-bqbridge/pkg/bqstore"
	"github.com/illmade-knight/go-bqbridge/pkg/config"
	"github.com/illmade-knight/go-bqbridge/pkg/pipeline"
	"github.com/illmade-knight/go-bqbridge/pkg/rabbitmq"
	"github.com/illmade-knight/go-bqbridge/pkg/server"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to optional YAML config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") != "" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration is incomplete.")
	}

	ctx := context.Background()

	// A missing warehouse client is tolerated at startup: the service
	// still serves, and every write reports a configuration error until
	// it is restarted with working credentials.
	var writer bqstore.TableWriter
	bqClient, err := bqstore.NewProductionBigQueryClient(ctx, cfg.BigQueryConfig(), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize BigQuery client; writes will report a configuration error.")
	} else {
		defer bqClient.Close()
		w, err := bqstore.NewBigQueryTableWriter(bqClient, cfg.BigQueryConfig(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery table writer.")
		}
		writer = w
	}
	loader := bqstore.NewLoader(writer, logger)

	consumer := rabbitmq.NewConsumer(cfg.RabbitConfig(), logger)
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing RabbitMQ consumer.")
		}
	}()

	p, err := pipeline.NewPipeline(consumer, loader, pipeline.Config{
		BatchSize:   cfg.BatchSize,
		MaxMessages: cfg.MaxMessages,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble pipeline.")
	}

	srv := server.NewHTTPServer(cfg.HTTPPort, server.NewHandler(p, logger))

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("Starting server.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed.")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	logger.Info().Msg("Server stopped.")
}
