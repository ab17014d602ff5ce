package radar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResult is returned when a conversion yields zero features. An empty
// collection cannot be told apart from a total decode failure, so it is never
// cached.
var ErrEmptyResult = errors.New("converter produced no features")

// ResolutionError reports that the directory listing could not be turned into
// a file URL.
type ResolutionError struct {
	ListingURL string
	Reason     string
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve latest file from %s: %s: %v", e.ListingURL, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve latest file from %s: %s", e.ListingURL, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FetchExhaustedError is returned after every download attempt failed.
// Err holds the cause of the final attempt.
type FetchExhaustedError struct {
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Err }

// ConverterTimeoutError is returned when the converter exceeded its wall-clock budget.
type ConverterTimeoutError struct {
	Timeout time.Duration
}

func (e *ConverterTimeoutError) Error() string {
	return fmt.Sprintf("converter exceeded timeout of %s", e.Timeout)
}

// ConverterKilledError is returned when the converter was terminated by a
// signal it did not raise itself, typically an out-of-memory kill.
type ConverterKilledError struct {
	Signal string
}

func (e *ConverterKilledError) Error() string {
	return fmt.Sprintf("converter was killed (%s)", e.Signal)
}

// ConverterFailedError is a clean non-zero exit of the converter.
type ConverterFailedError struct {
	ExitCode int
	Stderr   string
}

func (e *ConverterFailedError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("converter exited with status %d and no error output", e.ExitCode)
	}
	return fmt.Sprintf("converter exited with status %d: %s", e.ExitCode, e.Stderr)
}

// Classify maps a cycle error onto an OutcomeKind.
func Classify(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}

	var (
		resErr     *ResolutionError
		fetchErr   *FetchExhaustedError
		timeoutErr *ConverterTimeoutError
		killedErr  *ConverterKilledError
		failedErr  *ConverterFailedError
	)

	switch {
	case errors.As(err, &timeoutErr):
		return OutcomeConverterTimeout
	case errors.As(err, &killedErr):
		return OutcomeConverterKilled
	case errors.As(err, &failedErr):
		return OutcomeConverterFailed
	case errors.Is(err, ErrEmptyResult):
		return OutcomeEmptyResult
	case errors.As(err, &fetchErr):
		return OutcomeFetchExhausted
	case errors.As(err, &resErr):
		return OutcomeResolution
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeUnknown
	}
}
