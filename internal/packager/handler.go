package packager

import (
	"context"
	"log/slog"

	"ocssaver/internal/servicetime"
	"ocssaver/internal/telemetry"
	"ocssaver/internal/types"
)

// ScheduledEvent is the scheduler payload. Only time and detail are read;
// the rest of the EventBridge envelope is ignored.
type ScheduledEvent struct {
	ID     string     `json:"id,omitempty"`
	Time   string     `json:"time"`
	Detail *RunDetail `json:"detail,omitempty"`
}

// RunDetail carries the optional run flags.
type RunDetail struct {
	Overwrite bool `json:"overwrite,omitempty"`
	Recover   bool `json:"recover,omitempty"`
}

// consolidator is the subset of Consolidator used by Handler.
type consolidator interface {
	Consolidate(ctx context.Context, opts RunOptions) (RunSummary, error)
}

// Handler is the scheduled Lambda entry point.
type Handler struct {
	Consolidator consolidator
	Reporter     telemetry.Reporter
	Logger       *slog.Logger
}

// Handle runs one consolidation. Failures are reported and returned so the
// scheduler sees the invocation fail and can retry it.
func (h *Handler) Handle(ctx context.Context, event ScheduledEvent) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var reporter telemetry.Reporter = telemetry.LogReporter{Logger: logger}
	if h.Reporter != nil {
		reporter = h.Reporter
	}

	opts := RunOptions{}
	if event.Detail != nil {
		opts.Overwrite = event.Detail.Overwrite
		opts.Recover = event.Detail.Recover
	}

	trigger, err := servicetime.Local(event.Time)
	if err != nil {
		reporter.CaptureError(ctx, err)
		return err
	}
	opts.Trigger = trigger

	summary, err := h.Consolidator.Consolidate(ctx, opts)
	if err != nil {
		logger.ErrorContext(ctx, "consolidation failed",
			"event_id", event.ID,
			"service_day", summary.ServiceDay,
			"output_key", summary.OutputKey,
			"error_code", string(types.CodeOf(err)),
			"error", err,
		)
		reporter.CaptureError(ctx, err)
		return err
	}

	reporter.Count(ctx, types.MetricFragmentsConsolidated, summary.Fragments)
	if opts.Recover {
		reporter.Count(ctx, types.MetricRecoveredFragments, summary.Recovered)
	}
	logger.InfoContext(ctx, "packager run complete",
		"event_id", event.ID,
		"run_id", summary.RunID,
		"service_day", summary.ServiceDay,
		"output_key", summary.OutputKey,
		"fragment_count", summary.Fragments,
		"recovered", summary.Recovered,
		"bytes", summary.Bytes,
	)
	return nil
}
