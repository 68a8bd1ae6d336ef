package exception_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
)

type CustomError struct {
	Msg string
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("CustomError: %s", e.Msg)
}

func TestNewBatchError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	be := exception.NewBatchError("db", "failed to connect", originalErr, false, true)

	assert.Equal(t, "db", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, originalErr, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.Contains(t, be.Error(), "[db] failed to connect: db connection refused")
	assert.NotEmpty(t, be.StackTrace)
}

func TestNewBatchErrorf(t *testing.T) {
	be1 := exception.NewBatchErrorf("mirror", "partition %s missing", "champ_2003-02-14")
	assert.False(t, be1.IsRetryable())
	assert.False(t, be1.IsSkippable())
	assert.Nil(t, be1.Unwrap())
	assert.Contains(t, be1.Error(), "[mirror] partition champ_2003-02-14 missing")

	be2 := exception.NewBatchErrorf("net", "timeout occurred", true)
	assert.True(t, be2.IsRetryable())
	assert.False(t, be2.IsSkippable())

	be3 := exception.NewBatchErrorf("worker", "bad record %d", 5, true, false)
	assert.False(t, be3.IsRetryable())
	assert.True(t, be3.IsSkippable())

	cause := errors.New("transient error")
	be4 := exception.NewBatchErrorf("db", "lock contention", true, true, cause)
	assert.True(t, be4.IsRetryable())
	assert.True(t, be4.IsSkippable())
	assert.Equal(t, cause, be4.Unwrap())
}

func TestKinds_ErrorsIs(t *testing.T) {
	q := exception.NewInvalidQueryError("occlist", "missions or datetimerange required")
	assert.True(t, errors.Is(q, exception.ErrInvalidQuery))
	assert.False(t, errors.Is(q, exception.ErrInvalidFilter))
	assert.True(t, exception.IsFatal(q))

	f := exception.NewInvalidFilterError("occlist", "colour", "unknown predicate")
	assert.True(t, errors.Is(f, exception.ErrInvalidFilter))
	assert.Contains(t, f.Error(), "(colour)")

	r := exception.NewReformatError("worker", "G05-champ-200302140102", "latitude out of range", nil)
	assert.True(t, errors.Is(r, exception.ErrReformat))
	assert.True(t, r.IsSkippable())
	assert.Equal(t, "G05-champ-200302140102", r.Item)

	n := exception.NewNamingConventionError("planner", "champ/foo.nc", "unrecognized")
	assert.True(t, errors.Is(n, exception.ErrNamingConvention))

	wrapped := fmt.Errorf("outer: %w", r)
	assert.True(t, errors.Is(wrapped, exception.ErrReformat))
	assert.True(t, exception.IsBatchError(wrapped))
}

func TestClassifyStorageError(t *testing.T) {
	notFound := errors.New("object doesn't exist")

	transient := exception.ClassifyStorageError("storage", "get failed", "a/b", errors.New("connection reset by peer"))
	assert.True(t, errors.Is(transient, exception.ErrStorageTransient))
	assert.True(t, exception.IsTemporary(transient))

	fatal := exception.ClassifyStorageError("storage", "get failed", "a/b", os.ErrPermission)
	assert.True(t, errors.Is(fatal, exception.ErrStorageFatal))
	assert.False(t, exception.IsTemporary(fatal))

	missing := exception.ClassifyStorageError("storage", "get failed", "a/b", fmt.Errorf("wrap: %w", notFound), notFound)
	assert.True(t, errors.Is(missing, exception.ErrStorageFatal))
	assert.True(t, errors.Is(missing, notFound))

	canceled := exception.ClassifyStorageError("storage", "get failed", "a/b", context.Canceled)
	assert.True(t, errors.Is(canceled, exception.ErrStorageFatal))

	assert.Nil(t, exception.ClassifyStorageError("storage", "noop", "", nil))

	already := exception.NewReformatError("worker", "x", "bad", nil)
	assert.Same(t, already, exception.ClassifyStorageError("storage", "m", "", already))
}

func TestEscalateStorageError(t *testing.T) {
	cause := errors.New("503 slow down")
	transient := exception.NewStorageTransientError("mirror", "fetch partition", "champ_2003-02-14", cause)

	escalated := exception.EscalateStorageError("mirror", 4, transient)
	assert.True(t, errors.Is(escalated, exception.ErrStorageFatal))
	assert.False(t, errors.Is(escalated, exception.ErrStorageTransient))
	assert.True(t, errors.Is(escalated, cause))
	assert.Contains(t, escalated.Error(), "giving up after 4 attempts")
	assert.Contains(t, escalated.Error(), "champ_2003-02-14")

	other := exception.NewReformatError("worker", "x", "bad", nil)
	assert.Same(t, other, exception.EscalateStorageError("mirror", 4, other))
}

func TestIsErrorOfType(t *testing.T) {
	custom := &CustomError{Msg: "boom"}
	wrapped := fmt.Errorf("wrapped: %w", custom)

	assert.True(t, exception.IsErrorOfType(wrapped, "*exception_test.CustomError"))
	assert.True(t, exception.IsErrorOfType(wrapped, "boom"))
	assert.True(t, exception.IsErrorOfType(context.DeadlineExceeded, "context.DeadlineExceeded"))
	assert.True(t, exception.IsErrorOfType(exception.NewStorageTransientError("s", "m", "", nil), exception.StorageTransientErrorName))
	assert.False(t, exception.IsErrorOfType(nil, "anything"))
	assert.True(t, exception.IsErrorTypeRegistered(exception.NamingConventionErrorName))
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "clean", exception.ExtractErrorMessage(exception.NewBatchError("m", "clean", errors.New("noise"), false, false)))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
}
