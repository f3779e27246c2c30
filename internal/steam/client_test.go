package steam

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"skin_sheet/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Options{
		SearchURL: server.URL + "/market/search/render/",
		PriceURL:  server.URL + "/market/priceoverview/",
		Retry: retry.Config{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
	})
	return client, server
}

func TestResolveImageSendsSearchQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/search/render/", r.URL.Path)
		assert.Equal(t, "AK-47 | Redline (Field-Tested)", r.URL.Query().Get("query"))
		assert.Equal(t, "730", r.URL.Query().Get("appid"))
		assert.Equal(t, "1", r.URL.Query().Get("count"))
		assert.Equal(t, "0", r.URL.Query().Get("start"))
		w.Write([]byte(`{"success":true,"assets":{"730":{"2":{"1":{"icon_url":"abc/62fx62f"}}}}}`))
	})

	got, err := client.ResolveImage(context.Background(), "AK-47 | Redline (Field-Tested)")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StaticAssetBase+"abc/360fx360f", *got)
	assert.Equal(t, int64(1), client.GetAPICallCount())
}

func TestResolveImageConfirmedAbsent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"total_count":0,"results_html":"<div>none</div>"}`))
	})

	got, err := client.ResolveImage(context.Background(), "Nothing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveImageDecodeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>rate limited</html>`))
	})

	_, err := client.ResolveImage(context.Background(), "Glock")
	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, "decode", upstreamErr.Type)
	assert.False(t, upstreamErr.IsRetryable())
}

func TestResolveImageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"icon_url":"x"}`))
	})

	got, err := client.ResolveImage(context.Background(), "Glock")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveImageDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.ResolveImage(context.Background(), "Glock")
	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusBadRequest, upstreamErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolvePrice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/priceoverview/", r.URL.Path)
		assert.Equal(t, "Glock-18 | Fade (Factory New)", r.URL.Query().Get("market_hash_name"))
		assert.Equal(t, "1", r.URL.Query().Get("currency"))
		w.Write([]byte(`{"success":true,"lowest_price":"$1,234.56","volume":"1,024","median_price":"$1,200.00"}`))
	})

	price, err := client.ResolvePrice(context.Background(), "Glock-18 | Fade (Factory New)")
	require.NoError(t, err)
	assert.True(t, price.Lowest.Valid)
	assert.Equal(t, "1234.56", price.Lowest.Decimal.String())
	assert.Equal(t, "1200", price.Median.Decimal.String())
	assert.Equal(t, "1024", price.Volume.Decimal.String())
}

func TestResolvePriceMissingFields(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"lowest_price":"$0.03"}`))
	})

	price, err := client.ResolvePrice(context.Background(), "Sticker")
	require.NoError(t, err)
	assert.True(t, price.Lowest.Valid)
	assert.False(t, price.Median.Valid)
	assert.False(t, price.Volume.Valid)
}

func TestResolvePriceUnsuccessful(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	})

	price, err := client.ResolvePrice(context.Background(), "Unknown")
	require.NoError(t, err)
	assert.False(t, price.Lowest.Valid)
	assert.False(t, price.Median.Valid)
}

func TestAPICallCounterReset(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	})

	client.ResolvePrice(context.Background(), "a")
	client.ResolvePrice(context.Background(), "b")
	assert.Equal(t, int64(2), client.GetAPICallCount())

	client.ResetAPICallCount()
	assert.Equal(t, int64(0), client.GetAPICallCount())
}
