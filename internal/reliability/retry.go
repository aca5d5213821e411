// Package reliability holds the retry policy shared by store writes and
// provider calls.
package reliability

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping baseDelay scaled linearly by
// the attempt number between tries. The last error is returned when all
// attempts fail. Context cancellation cuts the loop short.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(attempt)):
		}
	}
	return err
}

// IsRetryableHTTPStatus classifies retryable provider HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
