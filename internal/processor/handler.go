// Package processor implements the delivery-stream transformation Lambda.
//
// Each incoming record carries one envelope or an envelope batch. The
// transform renders it as timestamped text lines and tags it with its
// service day so the delivery stream's dynamic partitioning writes it under
// <source prefix>/<service day>/. A record that cannot be rendered is marked
// ProcessingFailed with its original data untouched, and the delivery stream
// diverts it to the processing-failed prefix for later recovery.
package processor

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"ocssaver/internal/ocs"
	"ocssaver/internal/telemetry"
	"ocssaver/internal/types"
)

// PartitionKeyServiceDay is the dynamic partitioning key name the delivery
// stream's S3 prefix expression reads.
const PartitionKeyServiceDay = "serviceDay"

// Record is one incoming transformation record. Data is kept as the raw
// base64 string so a failed record can be returned byte-for-byte.
type Record struct {
	RecordID                    string `json:"recordId"`
	ApproximateArrivalTimestamp int64  `json:"approximateArrivalTimestamp,omitempty"`
	Data                        string `json:"data"`
}

// Event is the transformation invocation payload.
type Event struct {
	InvocationID           string   `json:"invocationId"`
	DeliveryStreamArn      string   `json:"deliveryStreamArn"`
	SourceKinesisStreamArn string   `json:"sourceKinesisStreamArn,omitempty"`
	Region                 string   `json:"region"`
	Records                []Record `json:"records"`
}

// Result is the transformation outcome for one record.
type Result struct {
	RecordID string                                        `json:"recordId"`
	Result   string                                        `json:"result"`
	Data     string                                        `json:"data"`
	Metadata *events.KinesisFirehoseResponseRecordMetadata `json:"metadata,omitempty"`
}

// Response is returned to the delivery stream. Records are one-to-one and in
// order with the incoming records.
type Response struct {
	Records []Result `json:"records"`
}

// Handler holds the dependencies of the transformation Lambda.
type Handler struct {
	Reporter telemetry.Reporter
	Logger   *slog.Logger
}

// Handle transforms every record in the event. It never returns an error:
// record-level failures are reported in the result, and at most one failure
// per invocation is sent to the reporter.
func (h *Handler) Handle(ctx context.Context, event Event) (Response, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var reporter telemetry.Reporter = telemetry.LogReporter{Logger: logger}
	if h.Reporter != nil {
		reporter = h.Reporter
	}
	once := telemetry.NewOnceReporter(reporter)

	results := make([]Result, len(event.Records))
	failed := 0
	for i, rec := range event.Records {
		res, err := Transform(rec)
		if err != nil {
			failed++
			once.CaptureError(ctx, err)
		}
		results[i] = res
	}

	logger.InfoContext(ctx, "transformed records",
		"invocation_id", event.InvocationID,
		"records", len(event.Records),
		"failed", failed,
	)
	reporter.Count(ctx, types.MetricRecordsProcessed, len(event.Records))
	if failed > 0 {
		reporter.Count(ctx, types.MetricRecordsFailed, failed)
	}

	return Response{Records: results}, nil
}

// Transform renders one record. On failure the returned Result is already
// the ProcessingFailed pass-through and err describes why.
func Transform(rec Record) (Result, error) {
	batch, err := ocs.RenderBase64(rec.Data)
	if err != nil {
		return Result{
			RecordID: rec.RecordID,
			Result:   events.KinesisFirehoseTransformedStateProcessingFailed,
			Data:     rec.Data,
		}, err
	}

	return Result{
		RecordID: rec.RecordID,
		Result:   events.KinesisFirehoseTransformedStateOk,
		Data:     base64.StdEncoding.EncodeToString([]byte(batch.Text())),
		Metadata: &events.KinesisFirehoseResponseRecordMetadata{
			PartitionKeys: map[string]string{PartitionKeyServiceDay: batch.ServiceDay},
		},
	}, nil
}
