// Package notifications posts ntfy messages when new items show up on the
// sheet.
package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	maxItemsInBatch  = 10
	failureThreshold = 5
	circuitCooldown  = 30 * time.Second
)

type Options struct {
	BaseURL    string
	Topic      string
	Enabled    bool
	BatchMode  bool
	Priority   string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	httpClient *http.Client
	opts       Options

	// circuit breaker state
	failures    int
	lastFailure time.Time
	circuitOpen bool
	mutex       sync.Mutex

	totalSent    int64
	totalFailed  int64
	totalRetries int64
}

// NewItem describes a record seen on the sheet for the first time.
type NewItem struct {
	MarketName string
	SheetPrice decimal.NullDecimal
}

type NotificationError struct {
	Type       string
	StatusCode int
	Attempt    int
	Underlying error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification failed [%s] attempt %d: %v", e.Type, e.Attempt, e.Underlying)
}

func (e *NotificationError) Unwrap() error {
	return e.Underlying
}

func (e *NotificationError) IsRetryable() bool {
	switch e.Type {
	case "network", "server", "timeout", "rate_limit":
		return true
	case "auth", "client":
		return false
	default:
		return e.StatusCode >= 500
	}
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://ntfy.sh"
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		opts:       opts,
	}
}

func (c *Client) Enabled() bool {
	return c.opts.Enabled
}

func (c *Client) SendNotification(ctx context.Context, message string) error {
	if !c.Enabled() {
		log.Debug().Msg("Notifications disabled, skipping")
		return nil
	}

	if c.isCircuitOpen() {
		log.Warn().Msg("Circuit breaker open, skipping notification")
		return &NotificationError{
			Type:       "circuit_open",
			Underlying: errors.New("circuit breaker is open"),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			log.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying notification after delay")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.incrementRetries()
		}

		err := c.sendSingleNotification(ctx, message, attempt+1)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err

		var notifErr *NotificationError
		if errors.As(err, &notifErr) && !notifErr.IsRetryable() {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Msg("Non-retryable error, giving up")
			c.recordFailure()
			return err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", c.opts.MaxRetries).
			Msg("Notification attempt failed")
	}

	c.recordFailure()
	return &NotificationError{
		Type:       "max_retries_exceeded",
		Attempt:    c.opts.MaxRetries + 1,
		Underlying: lastErr,
	}
}

func (c *Client) sendSingleNotification(ctx context.Context, message string, attempt int) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.opts.BaseURL, "/"), c.opts.Topic)

	log.Debug().
		Str("url", url).
		Int("attempt", attempt).
		Msg("Sending notification")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return &NotificationError{Type: "client", Attempt: attempt, Underlying: err}
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "Skin sheet")
	if c.opts.Priority != "" {
		req.Header.Set("Priority", c.opts.Priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotificationError{Type: "network", Attempt: attempt, Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &NotificationError{
			Type:       categorizeHTTPError(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Attempt:    attempt,
			Underlying: fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	log.Debug().
		Int("status_code", resp.StatusCode).
		Int("attempt", attempt).
		Msg("Notification sent successfully")
	return nil
}

// SendNotificationAsync sends in the background. The send outlives ctx's
// cancellation so a finished request does not abort it.
func (c *Client) SendNotificationAsync(ctx context.Context, message string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := c.SendNotification(ctx, message); err != nil {
			log.Warn().Err(err).Msg("Async notification failed")
		}
	}()
}

// NotifyNewItems announces items inserted during an ingest, either as one
// batch message or one message per item.
func (c *Client) NotifyNewItems(ctx context.Context, items []NewItem) {
	if !c.Enabled() {
		return
	}
	if len(items) == 0 {
		log.Debug().Msg("No new items to notify about")
		return
	}

	if c.opts.BatchMode {
		log.Info().Int("items_added", len(items)).Msg("Sending batch notification for new items")
		c.SendNotificationAsync(ctx, FormatBatchMessage(items))
		return
	}

	log.Info().Int("items_added", len(items)).Msg("Sending individual notifications for new items")
	ctx = context.WithoutCancel(ctx)
	go func() {
		for i, item := range items {
			if err := c.SendNotification(ctx, FormatItemMessage(item, i+1, len(items))); err != nil {
				log.Warn().Err(err).Str("market_name", item.MarketName).Msg("Item notification failed")
			}
		}
	}()
}

func formatPrice(p decimal.NullDecimal) string {
	if !p.Valid {
		return "no price"
	}
	return "$" + p.Decimal.StringFixed(2)
}

func FormatBatchMessage(items []NewItem) string {
	var sb strings.Builder

	if len(items) == 1 {
		sb.WriteString("1 new item on the sheet\n")
	} else {
		fmt.Fprintf(&sb, "%d new items on the sheet\n", len(items))
	}

	shown := min(len(items), maxItemsInBatch)
	for _, item := range items[:shown] {
		fmt.Fprintf(&sb, "• %s (%s)\n", item.MarketName, formatPrice(item.SheetPrice))
	}
	if len(items) > shown {
		fmt.Fprintf(&sb, "... and %d more items\n", len(items)-shown)
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

func FormatItemMessage(item NewItem, itemNum, totalItems int) string {
	var sb strings.Builder
	if totalItems > 1 {
		fmt.Fprintf(&sb, "New item (%d/%d)\n", itemNum, totalItems)
	} else {
		sb.WriteString("New item\n")
	}
	fmt.Fprintf(&sb, "%s\n", item.MarketName)
	fmt.Fprintf(&sb, "Sheet price: %s", formatPrice(item.SheetPrice))
	return sb.String()
}

func (c *Client) isCircuitOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.circuitOpen {
		return false
	}
	// half-open: let one attempt through after the cooldown
	if time.Since(c.lastFailure) > circuitCooldown {
		c.circuitOpen = false
		c.failures = 0
		log.Info().Msg("Circuit breaker moving to half-open state")
	}
	return c.circuitOpen
}

func (c *Client) recordSuccess() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalSent++
	c.failures = 0
	if c.circuitOpen {
		c.circuitOpen = false
		log.Info().Msg("Circuit breaker closed after successful notification")
	}
}

func (c *Client) recordFailure() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalFailed++
	c.failures++
	c.lastFailure = time.Now()

	if c.failures >= failureThreshold && !c.circuitOpen {
		c.circuitOpen = true
		log.Warn().
			Int("failures", c.failures).
			Msg("Circuit breaker opened due to consecutive failures")
	}
}

func (c *Client) incrementRetries() {
	c.mutex.Lock()
	c.totalRetries++
	c.mutex.Unlock()
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.opts.BaseDelay) * math.Pow(2, float64(attempt-1))

	// ±25% jitter
	backoff *= 1 + rand.Float64()*0.5 - 0.25

	if maxBackoff := float64(c.opts.MaxDelay); backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Duration(backoff)
}

func categorizeHTTPError(statusCode int) string {
	switch {
	case statusCode == 401 || statusCode == 403:
		return "auth"
	case statusCode == 429:
		return "rate_limit"
	case statusCode >= 400 && statusCode < 500:
		return "client"
	case statusCode >= 500:
		return "server"
	default:
		return "unknown"
	}
}

// GetMetrics returns current notification metrics
func (c *Client) GetMetrics() (sent, failed, retries int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.totalSent, c.totalFailed, c.totalRetries
}
