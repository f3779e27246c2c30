package config

import (
	"time"

	"skin_sheet/internal/retry"
)

type ResilienceConfig struct {
	SheetRead  retry.Config
	APIRequest retry.Config
	StoreWrite retry.Config
}

// DefaultResilienceConfig keeps upstream retries short: the market endpoints
// are rate limited and the background loop will come back to a failed item on
// its next cycle anyway.
var DefaultResilienceConfig = ResilienceConfig{
	SheetRead: retry.Config{
		Name:       "sheet read",
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    15 * time.Second,
	},
	APIRequest: retry.Config{
		Name:       "market request",
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Timeout:    15 * time.Second,
	},
	StoreWrite: retry.Config{
		Name:       "store write",
		MaxRetries: 2,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Timeout:    5 * time.Second,
	},
}
