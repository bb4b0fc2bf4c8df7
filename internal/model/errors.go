package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for failure modes that carry no parameters.
var (
	ErrUnknownQuality  = errors.New("unknown quality tier")
	ErrDownloadTimeout = errors.New("download timed out")
	ErrCancelled       = errors.New("download cancelled")
)

// RateLimitError rejects an admission attempt. RetryAfter is the wait
// until the oldest request in the user's window ages out.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// ExtractError reports an extraction tool failure. Diagnostic is already
// reduced to a short user-safe message.
type ExtractError struct {
	Diagnostic string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Diagnostic)
}

// SizeLimitError reports output larger than the configured limit.
type SizeLimitError struct {
	Observed int64
	Limit    int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file size %d bytes exceeds limit of %d bytes", e.Observed, e.Limit)
}

// QuotaError rejects a request over the user's daily download budget.
type QuotaError struct {
	RemainingMB int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily download quota exhausted, %d MB remaining", e.RemainingMB)
}
