package exception

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Names under which the kinds are registered in the error registry.
const (
	InvalidQueryErrorName     = "InvalidQueryError"
	InvalidFilterErrorName    = "InvalidFilterError"
	StorageTransientErrorName = "StorageTransientError"
	StorageFatalErrorName     = "StorageFatalError"
	ReformatErrorName         = "ReformatError"
	NamingConventionErrorName = "NamingConventionError"
)

var (
	// ErrInvalidQuery marks an underspecified query (no mission and no date range).
	ErrInvalidQuery = errors.New(InvalidQueryErrorName)
	// ErrInvalidFilter marks an unknown or malformed filter predicate.
	ErrInvalidFilter = errors.New(InvalidFilterErrorName)
	// ErrStorageTransient marks a retryable ObjectStore or MetadataStore failure.
	ErrStorageTransient = errors.New(StorageTransientErrorName)
	// ErrStorageFatal marks a non-retryable storage failure, including exhausted retries.
	ErrStorageFatal = errors.New(StorageFatalErrorName)
	// ErrReformat marks a source file or sounding that failed reformatting validation.
	ErrReformat = errors.New(ReformatErrorName)
	// ErrNamingConvention marks a source filename that does not follow its mission convention.
	ErrNamingConvention = errors.New(NamingConventionErrorName)
)

func newKind(kind error, module, message, item string, cause error, skippable, retryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		Item:        item,
		Kind:        kind,
		OriginalErr: cause,
		isRetryable: retryable,
		isSkippable: skippable,
		StackTrace:  captureStack(),
	}
}

// NewInvalidQueryError reports an underspecified query. Never retried, never skipped.
func NewInvalidQueryError(module, format string, a ...interface{}) *BatchError {
	return newKind(ErrInvalidQuery, module, fmt.Sprintf(format, a...), "", nil, false, false)
}

// NewInvalidFilterError reports an unknown or malformed filter predicate.
func NewInvalidFilterError(module, predicate, format string, a ...interface{}) *BatchError {
	return newKind(ErrInvalidFilter, module, fmt.Sprintf(format, a...), predicate, nil, false, false)
}

// NewStorageTransientError wraps a retryable storage failure.
func NewStorageTransientError(module, message, item string, cause error) *BatchError {
	return newKind(ErrStorageTransient, module, message, item, cause, false, true)
}

// NewStorageFatalError wraps a non-retryable storage failure.
func NewStorageFatalError(module, message, item string, cause error) *BatchError {
	return newKind(ErrStorageFatal, module, message, item, cause, false, false)
}

// NewReformatError reports a sounding or source file that failed reformatting.
// item carries the offending occultation id or source path.
func NewReformatError(module, item, message string, cause error) *BatchError {
	return newKind(ErrReformat, module, message, item, cause, true, false)
}

// NewNamingConventionError reports a source filename that could not be parsed.
func NewNamingConventionError(module, path, message string) *BatchError {
	return newKind(ErrNamingConvention, module, message, path, nil, true, false)
}

// ClassifyStorageError converts a raw error returned by a storage backend into a
// StorageTransientError or a StorageFatalError. Errors that already carry a kind are
// returned unchanged. notFound lists backend sentinels that mean the object is absent.
func ClassifyStorageError(module, message, item string, err error, notFound ...error) error {
	if err == nil {
		return nil
	}
	var be *BatchError
	if errors.As(err, &be) && be.Kind != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewStorageFatalError(module, message, item, err)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrInvalid) {
		return NewStorageFatalError(module, message, item, err)
	}
	for _, nf := range notFound {
		if nf != nil && errors.Is(err, nf) {
			return NewStorageFatalError(module, message, item, err)
		}
	}
	if IsFatal(err) {
		return NewStorageFatalError(module, message, item, err)
	}
	return NewStorageTransientError(module, message, item, err)
}

// EscalateStorageError turns a transient storage error whose retries are exhausted
// into a StorageFatalError. Other errors are returned unchanged.
func EscalateStorageError(module string, attempts int, err error) error {
	if err == nil || !errors.Is(err, ErrStorageTransient) {
		return err
	}
	item, message, cause := "", "", err
	var be *BatchError
	if errors.As(err, &be) {
		item, message, cause = be.Item, be.Message, be.OriginalErr
	}
	return NewStorageFatalError(module, fmt.Sprintf("%s: giving up after %d attempts", message, attempts), item, cause)
}
