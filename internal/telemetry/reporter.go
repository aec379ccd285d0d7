// Package telemetry captures run failures and publishes operational counts.
//
// Reporting is best effort. A reporter never returns an error to its caller:
// a CloudWatch outage must not turn a successful consolidation into a failed
// one, nor change the result of a stream transform.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sony/gobreaker/v2"

	"ocssaver/internal/types"
)

// Reporter is the telemetry surface used by handlers.
type Reporter interface {
	// CaptureError records one failure, grouped by its error code.
	CaptureError(ctx context.Context, err error)
	// Count publishes a counter value.
	Count(ctx context.Context, metric string, n int)
}

// cloudwatchAPI is the subset of the CloudWatch SDK client used here.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchReporter logs captured errors and publishes metrics to
// CloudWatch, dimensioned by function name. Calls pass through a circuit
// breaker so a failing metrics endpoint costs one fast rejection per call
// instead of a full SDK retry cycle.
type CloudWatchReporter struct {
	client        cloudwatchAPI
	namespace     string
	function      string
	failureMetric string
	breaker       *gobreaker.CircuitBreaker[struct{}]
	logger        *slog.Logger
}

// NewCloudWatchReporter creates a reporter. failureMetric is the metric name
// CaptureError increments (e.g. types.MetricTransformFailure).
func NewCloudWatchReporter(client cloudwatchAPI, namespace, function, failureMetric string, logger *slog.Logger) *CloudWatchReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchReporter{
		client:        client,
		namespace:     namespace,
		function:      function,
		failureMetric: failureMetric,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "cloudwatch-" + function,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		logger: logger,
	}
}

// CaptureError logs err and increments the failure metric with an
// ErrorCode dimension.
func (r *CloudWatchReporter) CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	code := types.CodeOf(err)
	r.logger.ErrorContext(ctx, "captured error",
		"function", r.function,
		"error_code", string(code),
		"error", err,
	)

	r.put(ctx, cwTypes.MetricDatum{
		MetricName: aws.String(r.failureMetric),
		Value:      aws.Float64(1),
		Unit:       cwTypes.StandardUnitCount,
		Dimensions: []cwTypes.Dimension{
			{Name: aws.String(types.DimFunction), Value: aws.String(r.function)},
			{Name: aws.String(types.DimErrorCode), Value: aws.String(string(code))},
		},
	})
}

// Count publishes metric=n dimensioned by function.
func (r *CloudWatchReporter) Count(ctx context.Context, metric string, n int) {
	r.put(ctx, cwTypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(float64(n)),
		Unit:       cwTypes.StandardUnitCount,
		Dimensions: []cwTypes.Dimension{
			{Name: aws.String(types.DimFunction), Value: aws.String(r.function)},
		},
	})
}

func (r *CloudWatchReporter) put(ctx context.Context, datum cwTypes.MetricDatum) {
	_, err := r.breaker.Execute(func() (struct{}, error) {
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(r.namespace),
			MetricData: []cwTypes.MetricDatum{datum},
		})
		return struct{}{}, err
	})
	if err != nil {
		r.logger.WarnContext(ctx, "metric publish failed",
			"metric", aws.ToString(datum.MetricName),
			"breaker_state", r.breaker.State().String(),
			"error", err,
		)
	}
}

// LogReporter only logs. It is used when metrics are disabled and in local
// mode.
type LogReporter struct {
	Logger *slog.Logger
}

// CaptureError logs err at error level.
func (r LogReporter) CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	r.logger().ErrorContext(ctx, "captured error",
		"error_code", string(types.CodeOf(err)),
		"error", err,
	)
}

// Count logs the counter at debug level.
func (r LogReporter) Count(ctx context.Context, metric string, n int) {
	r.logger().DebugContext(ctx, "metric", "metric", metric, "value", n)
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// OnceReporter forwards at most one CaptureError to the wrapped reporter.
// Counts always pass through. Create one per invocation; it is not safe for
// concurrent use and must not outlive the invocation that created it.
type OnceReporter struct {
	Reporter
	captured bool
}

// NewOnceReporter wraps r for the duration of one invocation.
func NewOnceReporter(r Reporter) *OnceReporter {
	return &OnceReporter{Reporter: r}
}

// CaptureError forwards the first error and drops the rest.
func (o *OnceReporter) CaptureError(ctx context.Context, err error) {
	if err == nil || o.captured {
		return
	}
	o.captured = true
	o.Reporter.CaptureError(ctx, err)
}

// Captured reports whether an error has been forwarded.
func (o *OnceReporter) Captured() bool {
	return o.captured
}
