// Package merrors provides the engine's error taxonomy: a baseError embedded
// into domain-specific structs (StorageError, TagError, ValidationError,
// MetricError, QueryError), each exposing a chainable With* API that returns
// its own concrete type so callers keep access to domain-specific accessors
// after construction.
//
// Error codes (codes.go) give programmatic categorization independent of
// message text; the Is*/As* helpers below let callers branch on error type
// through the standard errors.As mechanism without importing reflection.
package merrors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsStorageError reports whether err is, or wraps, a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return stdErrors.As(err, &se)
}

// IsTagError reports whether err is, or wraps, a *TagError.
func IsTagError(err error) bool {
	var te *TagError
	return stdErrors.As(err, &te)
}

// AsValidationError extracts a *ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsStorageError extracts a *StorageError from err's chain.
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsTagError extracts a *TagError from err's chain.
func AsTagError(err error) (*TagError, bool) {
	var te *TagError
	if stdErrors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// AsMetricError extracts a *MetricError from err's chain.
func AsMetricError(err error) (*MetricError, bool) {
	var me *MetricError
	if stdErrors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// AsQueryError extracts a *QueryError from err's chain.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if stdErrors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error in this taxonomy, or
// returns ErrorCodeInternal for errors that don't carry one.
func GetErrorCode(err error) ErrorCode {
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}
	if se, ok := AsStorageError(err); ok {
		return se.Code()
	}
	if te, ok := AsTagError(err); ok {
		return te.Code()
	}
	if me, ok := AsMetricError(err); ok {
		return me.Code()
	}
	if qe, ok := AsQueryError(err); ok {
		return qe.Code()
	}
	return ErrorCodeInternal
}

// ClassifyDirectoryCreationError inspects a failed os.MkdirAll/os.Stat error
// and returns a StorageError with the most specific code it can determine.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied, "insufficient permissions to create directory",
		).WithPath(path).WithDetail("operation", "directory_creation")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull, "insufficient disk space to create directory",
				).WithPath(path).WithDetail("operation", "directory_creation")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly, "cannot create directory on read-only filesystem",
				).WithPath(path).WithDetail("operation", "directory_creation")
			}
		}
	}

	return NewStorageError(err, ErrorCodeBaseDirCreate, "failed to create directory").
		WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError inspects a failed os.OpenFile error and returns a
// StorageError with the most specific code it can determine.
func ClassifyFileOpenError(err error, filePath, fileName string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied, "insufficient permissions to open segment file",
		).WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull, "insufficient disk space to create segment file",
				).WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly, "cannot open file on read-only filesystem",
				).WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
			}
		}
	}

	return NewStorageError(err, ErrorCodeIO, "failed to open segment file").
		WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
}

// ClassifySyncError inspects a failed msync/Flush error and returns a
// StorageError with the most specific code it can determine.
func ClassifySyncError(err error, fileName, filePath string, offset int64) error {
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull, "cannot sync file: insufficient disk space",
				).WithFileName(fileName).WithPath(filePath).WithOffset(offset).
					WithDetail("operation", "file_sync")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly, "cannot sync file: filesystem is read-only",
				).WithFileName(fileName).WithPath(filePath).WithOffset(offset).
					WithDetail("operation", "file_sync")
			case syscall.EIO:
				return NewStorageError(
					err, ErrorCodeIO, "i/o error during file sync",
				).WithFileName(fileName).WithPath(filePath).WithOffset(offset).
					WithDetail("operation", "file_sync").WithDetail("severity", "high")
			}
		}
	}

	return NewStorageError(err, ErrorCodeIO, "failed to sync segment file to disk").
		WithFileName(fileName).WithPath(filePath).WithOffset(offset).
		WithDetail("operation", "file_sync")
}
