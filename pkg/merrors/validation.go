package merrors

// ValidationError is a specialized error type for input validation failures
// — malformed configuration, out-of-range options, malformed queries before
// they even reach the executor.
type ValidationError struct {
	*baseError
	field    string // Which field or parameter failed validation.
	rule     string // Which rule was violated ("required", "range", ...).
	provided any    // What value was actually supplied.
	expected any    // What would have been valid.
}

// NewValidationError creates a new validation-specific error.
func NewValidationError(err error, code ErrorCode, msg string) *ValidationError {
	return &ValidationError{baseError: NewBaseError(err, code, msg)}
}

func (ve *ValidationError) WithMessage(msg string) *ValidationError {
	ve.baseError.WithMessage(msg)
	return ve
}

func (ve *ValidationError) WithCode(code ErrorCode) *ValidationError {
	ve.baseError.WithCode(code)
	return ve
}

func (ve *ValidationError) WithDetail(key string, value any) *ValidationError {
	ve.baseError.WithDetail(key, value)
	return ve
}

func (ve *ValidationError) WithField(field string) *ValidationError {
	ve.field = field
	return ve
}

func (ve *ValidationError) WithRule(rule string) *ValidationError {
	ve.rule = rule
	return ve
}

func (ve *ValidationError) WithProvided(value any) *ValidationError {
	ve.provided = value
	return ve
}

func (ve *ValidationError) WithExpected(value any) *ValidationError {
	ve.expected = value
	return ve
}

func (ve *ValidationError) Field() string    { return ve.field }
func (ve *ValidationError) Rule() string     { return ve.rule }
func (ve *ValidationError) Provided() any    { return ve.provided }
func (ve *ValidationError) Expected() any    { return ve.expected }
