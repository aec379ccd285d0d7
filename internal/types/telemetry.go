package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Stream transform
	MetricRecordsProcessed = "RecordsProcessed"
	MetricRecordsFailed    = "RecordsFailed"
	MetricTransformFailure = "TransformFailure"

	// Consolidation
	MetricFragmentsConsolidated = "FragmentsConsolidated"
	MetricRecoveredFragments    = "RecoveredFragments"
	MetricConsolidationFailed   = "ConsolidationFailed"

	// Dimension Keys
	DimErrorCode = "ErrorCode"
	DimFunction  = "Function"

	// Metric Namespace
	MetricNamespace = "OCSSaver"
)
