package common

import "fmt"

var (
	ErrCanceled           = fmt.Errorf("download canceled")
	ErrTooManyRedirects   = fmt.Errorf("too many redirects")
	ErrMaxDepthExceeded   = fmt.Errorf("max directory depth exceeded")
	ErrRetriesExhausted   = fmt.Errorf("retries exhausted")
	ErrURLNotReachable    = fmt.Errorf("url not reachable")
	ErrAuthRequired       = fmt.Errorf("authentication required")
	ErrSessionAlreadyRuns = fmt.Errorf("session has already started")
	ErrEmptyURL           = fmt.Errorf("url is empty")
	ErrEmptyDestination   = fmt.Errorf("destination folder is empty")
)

// NetworkError wraps a transport-level failure (timeout, connection reset,
// DNS) so callers can tell it apart from an HTTP status error and retry.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network issue for %s: %s", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
