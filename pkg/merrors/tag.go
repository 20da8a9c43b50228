package merrors

// TagError provides specialized error handling for the secondary-tag bitmap
// index: tag interning, bit-position assignment, and manifest persistence.
type TagError struct {
	*baseError
	tag       string // The tag string ("key:value") being processed, if any.
	partition string // The primary-tag label of the partition owning this index.
	operation string // "load" or "save".
}

// NewTagError creates a new tag-index-specific error.
func NewTagError(err error, code ErrorCode, msg string) *TagError {
	return &TagError{baseError: NewBaseError(err, code, msg)}
}

func (te *TagError) WithMessage(msg string) *TagError {
	te.baseError.WithMessage(msg)
	return te
}

func (te *TagError) WithCode(code ErrorCode) *TagError {
	te.baseError.WithCode(code)
	return te
}

func (te *TagError) WithDetail(key string, value any) *TagError {
	te.baseError.WithDetail(key, value)
	return te
}

func (te *TagError) WithTag(tag string) *TagError {
	te.tag = tag
	return te
}

func (te *TagError) WithPartition(partition string) *TagError {
	te.partition = partition
	return te
}

func (te *TagError) WithOperation(op string) *TagError {
	te.operation = op
	return te
}

func (te *TagError) Tag() string       { return te.tag }
func (te *TagError) Partition() string { return te.partition }
func (te *TagError) Operation() string { return te.operation }
