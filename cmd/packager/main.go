// Package main is the entrypoint for the Packager Lambda function.
//
// The Packager runs once per day on an EventBridge schedule. It collects the
// previous service day's fragments from S3, optionally replays failed
// deliveries first, and uploads a single tar.gz archive of the merged day.
// This file wires S3, CloudWatch and configuration together; the run itself
// lives in internal/packager.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"ocssaver/internal/archive"
	"ocssaver/internal/config"
	"ocssaver/internal/packager"
	"ocssaver/internal/storage"
	"ocssaver/internal/telemetry"
	"ocssaver/internal/types"
)

const functionName = "packager"

func main() {
	logger := telemetry.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
	logger.Info("Packager Lambda initializing (cold start)")

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("Failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := cfg.AWS.LoadAWS(ctx)
	if err != nil {
		logger.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}

	handler := newHandler(cfg, awsCfg, logger)

	logger.Info("Packager Lambda initialized",
		"environment", cfg.Environment,
		"bucket", cfg.Storage.Bucket,
		"source_prefix", cfg.Storage.SourcePrefix,
		"output_prefix", cfg.Storage.OutputPrefix,
		"fetch_concurrency", cfg.Packager.FetchConcurrency,
		"version", cfg.Build.Version,
	)

	// Local mode: run once against the scheduled event on stdin.
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		if err := runLocal(ctx, os.Stdin, handler); err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Handler execution completed successfully")
		return
	}

	lambda.Start(handler.Handle)
}

func newHandler(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) *packager.Handler {
	store := storage.New(awsCfg, storage.Options{
		Bucket:   cfg.Storage.Bucket,
		Endpoint: cfg.AWS.Endpoint,
	}, logger)

	consolidator := packager.NewConsolidator(store, archive.NewPublisher(store, logger), packager.Config{
		SourcePrefix:         cfg.Storage.SourcePrefix,
		OutputPrefix:         cfg.Storage.OutputPrefix,
		FetchConcurrency:     cfg.Packager.FetchConcurrency,
		ScratchDir:           cfg.Packager.ScratchDir,
		RecoveredContentType: cfg.Packager.RecoveredContentType,
		RequireFragments:     cfg.Packager.RequireFragments,
	}, logger)

	return &packager.Handler{
		Consolidator: consolidator,
		Reporter:     newReporter(cfg, awsCfg, logger),
		Logger:       logger,
	}
}

func newReporter(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) telemetry.Reporter {
	if !cfg.Observability.EnableMetrics || cfg.Environment == "local" {
		return telemetry.LogReporter{Logger: logger}
	}
	return telemetry.NewCloudWatchReporter(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		functionName,
		types.MetricConsolidationFailed,
		logger,
	)
}

type eventHandler interface {
	Handle(ctx context.Context, event packager.ScheduledEvent) error
}

func runLocal(ctx context.Context, in io.Reader, h eventHandler) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var event packager.ScheduledEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	return h.Handle(ctx, event)
}
