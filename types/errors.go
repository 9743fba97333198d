package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("component not running")
	ErrServerAlreadyRunning = errors.New("component already running")
)

var (
	ErrCacheKeyEmpty       = errors.New("cache key empty")
	ErrCachePrefixInvalid  = errors.New("cache key prefix invalid")
	ErrCacheFetchFuncIsNil = errors.New("cache fetch func is nil")
	ErrCacheStopped        = errors.New("cache store stopped")
	ErrCacheTypeMismatch   = errors.New("cache data type mismatch")
)

var (
	ErrNetwork            = errors.New("network error")
	ErrClient             = errors.New("client error")
	ErrRateLimited        = errors.New("rate limited")
	ErrServer             = errors.New("server error")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrEnvelopeInvalid    = errors.New("response envelope invalid")
	ErrClientStopped      = errors.New("client stopped")
)

var (
	ErrActionConfigInvalid    = errors.New("action config invalid")
	ErrActionNotInitialized   = errors.New("action not initialized")
	ErrActionConnectionFailed = errors.New("action connection failed")
	ErrActionIsDisabled       = errors.New("action broker is disabled")
	ErrActionPublishFailed    = errors.New("action publish failed")
)

var (
	ErrRuleInvalid     = errors.New("invalidation rule invalid")
	ErrRuleExists      = errors.New("invalidation rule exists")
	ErrPayloadInvalid  = errors.New("push payload invalid")
	ErrMutationInvalid = errors.New("mutation invalid")
	ErrInputInvalid    = errors.New("mutation input invalid")
)

var (
	ErrPersistTypeUnknown  = errors.New("persistence type unknown")
	ErrPersistIsDisabled   = errors.New("persistence is disabled")
	ErrPersistRecordBroken = errors.New("persisted record broken")
)

var (
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

var (
	ErrPrefetchQueueFull = errors.New("prefetch queue full")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

// ErrorKind classifies a failed backend request.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindClient
	KindRateLimited
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindClient:
		return "client"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindClient:
		return ErrClient
	case KindRateLimited:
		return ErrRateLimited
	case KindServer:
		return ErrServer
	default:
		return ErrNetwork
	}
}

// RequestError is the error returned by the fetch client for any failed call.
// errors.Is matches it against ErrNetwork, ErrClient, ErrRateLimited or ErrServer.
type RequestError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Code    string
	Details interface{}
	Err     error
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsRetryable reports whether repeating the request may succeed.
// Client errors are final except rate limiting.
func (e *RequestError) IsRetryable() bool {
	return e.Kind != KindClient
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// IsRetryable reports whether err is a RequestError worth retrying.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.IsRetryable()
	}
	return false
}
