package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrStorageNotOpen       = errors.New("storage not open")
	ErrQuotaExceeded        = errors.New("storage quota exceeded")
	ErrTransactionAborted   = errors.New("transaction aborted")
	ErrCorruptEntry         = errors.New("corrupt cache entry")
	ErrInvalidIndexField    = errors.New("invalid index field")
	ErrCacheNameEmpty       = errors.New("cache name empty")
	ErrBlobStoreTypeUnknown = errors.New("blob store type unknown")
	ErrBlobStoreDisabled    = errors.New("blob store is disabled")
)

var (
	ErrMigrationCountMismatch = errors.New("migration count mismatch")
	ErrMigrationSourceEmpty   = errors.New("migration source empty")
)

var (
	ErrRemoteFetchFailed     = errors.New("remote fetch failed")
	ErrRemoteResponseInvalid = errors.New("remote response invalid")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrManagerAlreadyRunning = errors.New("manager already running")
	ErrManagerNotRunning     = errors.New("manager not running")
	ErrSweepScheduleInvalid  = errors.New("sweep schedule invalid")
	ErrLoggerTypeUnknown     = errors.New("logger type unknown")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

func AsError(err error, target interface{}) bool {
	return errors.As(err, target)
}
