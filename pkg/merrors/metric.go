package merrors

// MetricError is a specialized error type for registry-level failures:
// creating, looking up, and dispatching by kind against the metric registry.
type MetricError struct {
	*baseError
	name string // The metric name involved.
	kind string // The metric kind requested or found ("gauge", "count", "ratio").
}

// NewMetricError creates a new registry-specific error.
func NewMetricError(err error, code ErrorCode, msg string) *MetricError {
	return &MetricError{baseError: NewBaseError(err, code, msg)}
}

func (me *MetricError) WithMessage(msg string) *MetricError {
	me.baseError.WithMessage(msg)
	return me
}

func (me *MetricError) WithCode(code ErrorCode) *MetricError {
	me.baseError.WithCode(code)
	return me
}

func (me *MetricError) WithDetail(key string, value any) *MetricError {
	me.baseError.WithDetail(key, value)
	return me
}

func (me *MetricError) WithName(name string) *MetricError {
	me.name = name
	return me
}

func (me *MetricError) WithKind(kind string) *MetricError {
	me.kind = kind
	return me
}

func (me *MetricError) Name() string { return me.name }
func (me *MetricError) Kind() string { return me.kind }
