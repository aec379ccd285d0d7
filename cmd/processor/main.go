// Package main is the entrypoint for the Processor Lambda function.
//
// The Processor is the transformation Lambda of the OCS delivery stream. It
// re-stamps every envelope batch as timestamped text lines and returns the
// service day as the dynamic partition key. This file handles dependency
// wiring (Cold Start) and delegates all record logic to internal/processor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"ocssaver/internal/config"
	"ocssaver/internal/processor"
	"ocssaver/internal/telemetry"
	"ocssaver/internal/types"
)

const functionName = "processor"

func main() {
	logger := telemetry.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
	logger.Info("Processor Lambda initializing (cold start)")

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("Failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadProcessorConfig(nil)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	ctx := context.Background()
	reporter, err := newReporter(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	handler := &processor.Handler{
		Reporter: reporter,
		Logger:   logger,
	}

	logger.Info("Processor Lambda initialized",
		"environment", cfg.Environment,
		"metrics_enabled", cfg.Observability.EnableMetrics,
		"version", cfg.Build.Version,
	)

	// Local mode: read one transformation event from stdin and print the
	// response instead of starting the Lambda runtime.
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		if err := runLocal(ctx, os.Stdin, os.Stdout, handler); err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Handler execution completed successfully")
		return
	}

	lambda.Start(handler.Handle)
}

// newReporter returns a CloudWatch-backed reporter, or a log-only one when
// metrics are disabled or running locally.
func newReporter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.Reporter, error) {
	if !cfg.Observability.EnableMetrics || cfg.Environment == "local" {
		return telemetry.LogReporter{Logger: logger}, nil
	}

	awsCfg, err := cfg.AWS.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	return telemetry.NewCloudWatchReporter(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		functionName,
		types.MetricTransformFailure,
		logger,
	), nil
}

type eventHandler interface {
	Handle(ctx context.Context, event processor.Event) (processor.Response, error)
}

func runLocal(ctx context.Context, in io.Reader, out io.Writer, h eventHandler) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var event processor.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	resp, err := h.Handle(ctx, event)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
