package steam

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError is returned for any failed call to the market endpoints.
type UpstreamError struct {
	Op         string // "search" or "priceoverview"
	MarketName string
	Type       string // "network", "status" or "decode"
	StatusCode int
	Underlying error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %q failed [%s] HTTP %d: %v", e.Op, e.MarketName, e.Type, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("%s %q failed [%s]: %v", e.Op, e.MarketName, e.Type, e.Underlying)
}

func (e *UpstreamError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether a later attempt could plausibly succeed.
func (e *UpstreamError) IsRetryable() bool {
	switch e.Type {
	case "network":
		return true
	case "status":
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// IsRetryable is the retry predicate for market requests.
func IsRetryable(err error) bool {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.IsRetryable()
	}
	return false
}
