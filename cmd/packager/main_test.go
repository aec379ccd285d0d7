package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocssaver/internal/config"
	"ocssaver/internal/packager"
	"ocssaver/internal/telemetry"
)

type recordingHandler struct {
	events []packager.ScheduledEvent
	err    error
}

func (r *recordingHandler) Handle(_ context.Context, event packager.ScheduledEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunLocal(t *testing.T) {
	h := &recordingHandler{}
	in := strings.NewReader(`{"id":"local","time":"2022-06-09T09:00:00Z","detail":{"recover":true}}`)

	require.NoError(t, runLocal(context.Background(), in, h))
	require.Len(t, h.events, 1)
	assert.Equal(t, "2022-06-09T09:00:00Z", h.events[0].Time)
	require.NotNil(t, h.events[0].Detail)
	assert.True(t, h.events[0].Detail.Recover)
	assert.False(t, h.events[0].Detail.Overwrite)
}

func TestRunLocal_Errors(t *testing.T) {
	failure := errors.New("boom")
	h := &recordingHandler{err: failure}

	assert.ErrorContains(t, runLocal(context.Background(), strings.NewReader(""), h), "no input")
	assert.ErrorContains(t, runLocal(context.Background(), strings.NewReader("[]"), h), "decoding event")
	assert.ErrorIs(t, runLocal(context.Background(), strings.NewReader(`{"time":"2022-06-09T09:00:00Z"}`), h), failure)
}

func TestNewHandler(t *testing.T) {
	cfg := &config.Config{
		Environment: "prod",
		Storage: config.StorageConfig{
			Bucket:       "ocs-bucket",
			SourcePrefix: "ocs/source",
			OutputPrefix: "ocs/packaged",
		},
		Packager: config.PackagerConfig{
			FetchConcurrency:     4,
			RecoveredContentType: "text/plain",
		},
		Observability: config.ObservabilityConfig{EnableMetrics: true, MetricNamespace: "OCSSaver"},
	}

	h := newHandler(cfg, aws.Config{Region: "us-east-1"}, discardLogger())
	require.NotNil(t, h.Consolidator)
	assert.IsType(t, &packager.Consolidator{}, h.Consolidator)
	assert.IsType(t, &telemetry.CloudWatchReporter{}, h.Reporter)
}

func TestNewReporter_LogOnly(t *testing.T) {
	cfg := &config.Config{Environment: "local", Observability: config.ObservabilityConfig{EnableMetrics: true}}
	assert.IsType(t, telemetry.LogReporter{}, newReporter(cfg, aws.Config{}, discardLogger()))

	cfg = &config.Config{Environment: "prod", Observability: config.ObservabilityConfig{EnableMetrics: false}}
	assert.IsType(t, telemetry.LogReporter{}, newReporter(cfg, aws.Config{}, discardLogger()))
}
