package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"skin_sheet/internal/config"
	"skin_sheet/internal/record"
	"skin_sheet/internal/retry"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultSearchURL = "https://steamcommunity.com/market/search/render/"
	DefaultPriceURL  = "https://steamcommunity.com/market/priceoverview/"
	DefaultAppID     = 730
	DefaultCurrency  = 1 // USD

	userAgent = "skin-sheet/1.0"
)

type Options struct {
	SearchURL string
	PriceURL  string
	AppID     int
	Currency  int
	// RatePerSecond caps requests across both endpoints. Zero disables the cap.
	RatePerSecond float64
	Timeout       time.Duration
	Retry         retry.Config
}

// DefaultOptions targets the public community market.
func DefaultOptions() Options {
	return Options{
		SearchURL:     DefaultSearchURL,
		PriceURL:      DefaultPriceURL,
		AppID:         DefaultAppID,
		Currency:      DefaultCurrency,
		RatePerSecond: 1,
		Timeout:       10 * time.Second,
		Retry:         config.DefaultResilienceConfig.APIRequest,
	}
}

type Client struct {
	opts         Options
	client       *http.Client
	limiter      *rate.Limiter
	apiCallCount int64
	apiCallMutex sync.Mutex
}

// Price holds the normalized price overview. Any field may be absent.
type Price struct {
	Lowest decimal.NullDecimal `json:"lowest"`
	Median decimal.NullDecimal `json:"median"`
	Volume decimal.NullDecimal `json:"volume"`
}

type priceOverviewResponse struct {
	Success     bool   `json:"success"`
	LowestPrice string `json:"lowest_price"`
	MedianPrice string `json:"median_price"`
	Volume      string `json:"volume"`
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.AppID == 0 {
		opts.AppID = DefaultAppID
	}
	if opts.Currency == 0 {
		opts.Currency = DefaultCurrency
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = IsRetryable
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
	}
}

// IncrementAPICall safely increments the API call counter
func (c *Client) IncrementAPICall() {
	c.apiCallMutex.Lock()
	c.apiCallCount++
	c.apiCallMutex.Unlock()
}

// GetAPICallCount returns the current API call count
func (c *Client) GetAPICallCount() int64 {
	c.apiCallMutex.Lock()
	defer c.apiCallMutex.Unlock()
	return c.apiCallCount
}

// ResetAPICallCount resets the API call counter to zero
func (c *Client) ResetAPICallCount() {
	c.apiCallMutex.Lock()
	c.apiCallCount = 0
	c.apiCallMutex.Unlock()
}

// get performs one throttled GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, op, marketName, endpoint string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Op: op, MarketName: marketName, Type: "network", Underlying: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.IncrementAPICall()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, MarketName: marketName, Type: "network", Underlying: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: op, MarketName: marketName, Type: "network", Underlying: err}
	}

	if resp.StatusCode != http.StatusOK {
		log.Debug().
			Str("op", op).
			Str("market_name", marketName).
			Int("status_code", resp.StatusCode).
			Str("response_body_preview", string(body[:min(200, len(body))])).
			Msg("Non-200 response from market")
		return nil, &UpstreamError{
			Op:         op,
			MarketName: marketName,
			Type:       "status",
			StatusCode: resp.StatusCode,
			Underlying: fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return body, nil
}

func (c *Client) getWithRetry(ctx context.Context, op, marketName, endpoint string, query url.Values) ([]byte, error) {
	return retry.WithRetry(ctx, c.opts.Retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, op, marketName, endpoint, query)
	})
}

// ResolveImage looks the item up in market search and returns its large icon
// URL. A nil URL with a nil error means the search answered but carried no
// image.
func (c *Client) ResolveImage(ctx context.Context, marketName string) (*string, error) {
	query := url.Values{}
	query.Set("query", marketName)
	query.Set("appid", strconv.Itoa(c.opts.AppID))
	query.Set("count", "1")
	query.Set("start", "0")
	query.Set("search_descriptions", "0")

	body, err := c.getWithRetry(ctx, "search", marketName, c.opts.SearchURL, query)
	if err != nil {
		return nil, err
	}

	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, &UpstreamError{Op: "search", MarketName: marketName, Type: "decode", Underlying: err}
	}

	imageURL, ok := ExtractImageURL(root)
	if !ok {
		log.Debug().Str("market_name", marketName).Msg("No image found in search response")
		return nil, nil
	}

	log.Debug().
		Str("market_name", marketName).
		Str("image_url", imageURL).
		Msg("Resolved image")
	return &imageURL, nil
}

// ResolvePrice fetches the price overview for one market identifier.
func (c *Client) ResolvePrice(ctx context.Context, marketName string) (Price, error) {
	query := url.Values{}
	query.Set("appid", strconv.Itoa(c.opts.AppID))
	query.Set("currency", strconv.Itoa(c.opts.Currency))
	query.Set("market_hash_name", marketName)

	body, err := c.getWithRetry(ctx, "priceoverview", marketName, c.opts.PriceURL, query)
	if err != nil {
		return Price{}, err
	}

	var overview priceOverviewResponse
	if err := json.Unmarshal(body, &overview); err != nil {
		return Price{}, &UpstreamError{Op: "priceoverview", MarketName: marketName, Type: "decode", Underlying: err}
	}
	if !overview.Success {
		log.Debug().Str("market_name", marketName).Msg("Price overview reported no data")
		return Price{}, nil
	}

	price := Price{
		Lowest: record.ParseDecimal(overview.LowestPrice),
		Median: record.ParseDecimal(overview.MedianPrice),
		Volume: record.ParseDecimal(overview.Volume),
	}

	log.Debug().
		Str("market_name", marketName).
		Str("lowest", overview.LowestPrice).
		Str("median", overview.MedianPrice).
		Str("volume", overview.Volume).
		Msg("Resolved price")
	return price, nil
}
