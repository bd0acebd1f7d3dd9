package archive

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Fetchers wrap one of these so callers can classify with
// errors.Is regardless of the underlying transport error.
var (
	// ErrRateLimited means the archive answered 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork covers transport failures and archive gateway errors.
	ErrNetwork = errors.New("network error")
	// ErrTimeout means a single fetch exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrNotArchived means the archive holds no snapshot for the URL.
	ErrNotArchived = errors.New("not archived")
	// ErrUnexpectedStatus is any other non-success HTTP status.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrTooLarge means the snapshot body exceeded the configured size cap.
	ErrTooLarge = errors.New("snapshot too large")
	// ErrIO is a local write failure after a successful fetch.
	ErrIO = errors.New("io error")
)

// IsRetryable reports whether err belongs to the retryable part of the
// taxonomy: rate limiting, network errors and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrTimeout)
}

// StatusError records the HTTP status behind a classified failure.
type StatusError struct {
	Kind       error
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d for %s", e.Kind, e.StatusCode, e.URL)
}

// Unwrap exposes the taxonomy sentinel.
func (e *StatusError) Unwrap() error {
	return e.Kind
}

// ErrorMessage renders err for a FAIL result. Not-archived failures collapse
// to the bare sentinel text so reports stay stable across archive responses.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotArchived) {
		return ErrNotArchived.Error()
	}
	return err.Error()
}
