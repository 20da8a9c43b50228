package merrors

// QueryError is a specialized error type for the query executor and
// expression engine — malformed time ranges, filters that reference unknown
// tags, expression trees that don't type-check against their inputs.
type QueryError struct {
	*baseError
	metric string // The metric the query was run against, if known.
	reason string // Short machine-checkable reason, e.g. "empty_range".
}

// NewQueryError creates a new query-specific error.
func NewQueryError(err error, code ErrorCode, msg string) *QueryError {
	return &QueryError{baseError: NewBaseError(err, code, msg)}
}

func (qe *QueryError) WithMessage(msg string) *QueryError {
	qe.baseError.WithMessage(msg)
	return qe
}

func (qe *QueryError) WithCode(code ErrorCode) *QueryError {
	qe.baseError.WithCode(code)
	return qe
}

func (qe *QueryError) WithDetail(key string, value any) *QueryError {
	qe.baseError.WithDetail(key, value)
	return qe
}

func (qe *QueryError) WithMetric(metric string) *QueryError {
	qe.metric = metric
	return qe
}

func (qe *QueryError) WithReason(reason string) *QueryError {
	qe.reason = reason
	return qe
}

func (qe *QueryError) Metric() string { return qe.metric }
func (qe *QueryError) Reason() string { return qe.reason }
