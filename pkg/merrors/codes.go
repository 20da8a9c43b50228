package merrors

// ErrorCode is a standardized way to categorize errors across the engine.
type ErrorCode string

// Base codes, applicable across any subsystem.
const (
	ErrorCodeIO             ErrorCode = "IO_ERROR"
	ErrorCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrorCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorCodeDiskFull       ErrorCode = "DISK_FULL"
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Storage/segment codes (spec.md §7: MemoryFile, FailedToCreateBaseDir,
// FailedToLoadConfig, FailedToSaveConfig).
const (
	ErrorCodeBaseDirCreate  ErrorCode = "FAILED_TO_CREATE_BASE_DIR"
	ErrorCodeConfigLoad     ErrorCode = "FAILED_TO_LOAD_CONFIG"
	ErrorCodeConfigSave     ErrorCode = "FAILED_TO_SAVE_CONFIG"
	ErrorCodeMemoryFile     ErrorCode = "MEMORY_FILE_ERROR"
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"
	ErrorCodeSubBlockTableFull ErrorCode = "SUB_BLOCK_TABLE_FULL"
)

// Tag-index codes (spec.md §7: FailedToSavePrimaryTag, FailedToLoadPrimaryTag,
// FailedToSaveSecondaryTag, FailedToLoadSecondaryTag, ExceededSecondaryTags).
const (
	ErrorCodePrimaryTagSave    ErrorCode = "FAILED_TO_SAVE_PRIMARY_TAG"
	ErrorCodePrimaryTagLoad    ErrorCode = "FAILED_TO_LOAD_PRIMARY_TAG"
	ErrorCodeSecondaryTagSave  ErrorCode = "FAILED_TO_SAVE_SECONDARY_TAG"
	ErrorCodeSecondaryTagLoad  ErrorCode = "FAILED_TO_LOAD_SECONDARY_TAG"
	ErrorCodeExceededSecondaryTags ErrorCode = "EXCEEDED_SECONDARY_TAGS"
)

// Metric registry codes (spec.md §7: FailedToCreateMetric, MetricAlreadyExists,
// MetricNotFound, WrongMetricType).
const (
	ErrorCodeMetricCreate      ErrorCode = "FAILED_TO_CREATE_METRIC"
	ErrorCodeMetricAlreadyExists ErrorCode = "METRIC_ALREADY_EXISTS"
	ErrorCodeMetricNotFound    ErrorCode = "METRIC_NOT_FOUND"
	ErrorCodeWrongMetricType   ErrorCode = "WRONG_METRIC_TYPE"
)

// Query codes (spec.md §7: InvalidQueryInput, UnexpectedResult).
const (
	ErrorCodeInvalidQueryInput ErrorCode = "INVALID_QUERY_INPUT"
	ErrorCodeUnexpectedResult  ErrorCode = "UNEXPECTED_RESULT"
)

// Ingest codes (spec.md §7: InvalidTimeOrder, TooLargeCount).
const (
	ErrorCodeInvalidTimeOrder ErrorCode = "INVALID_TIME_ORDER"
	ErrorCodeTooLargeCount    ErrorCode = "TOO_LARGE_COUNT"
)
