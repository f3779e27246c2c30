package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"skin_sheet/internal/cache"
	"skin_sheet/internal/record"
	"skin_sheet/internal/retry"
	"skin_sheet/internal/sheets"
	"skin_sheet/internal/steam"
	"skin_sheet/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu          sync.Mutex
	imageCalls  map[string]int
	priceCalls  map[string]int
	images      map[string]*string
	imageErrors map[string]error
	price       steam.Price
	priceErr    error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		imageCalls:  map[string]int{},
		priceCalls:  map[string]int{},
		images:      map[string]*string{},
		imageErrors: map[string]error{},
	}
}

func (f *fakeResolver) ResolveImage(ctx context.Context, name string) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls[name]++
	if err := f.imageErrors[name]; err != nil {
		return nil, err
	}
	return f.images[name], nil
}

func (f *fakeResolver) ResolvePrice(ctx context.Context, name string) (steam.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls[name]++
	return f.price, f.priceErr
}

func strPtr(s string) *string { return &s }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestImageCachesConfirmedMiss(t *testing.T) {
	resolver := newFakeResolver()
	e := NewEnricher(resolver, Options{})

	for i := 0; i < 3; i++ {
		url, err := e.Image(context.Background(), "Unknown Sticker")
		require.NoError(t, err)
		assert.Nil(t, url)
	}
	assert.Equal(t, 1, resolver.imageCalls["Unknown Sticker"])
}

func TestImageDoesNotCacheFailures(t *testing.T) {
	resolver := newFakeResolver()
	resolver.imageErrors["Glock"] = errors.New("status 503")
	e := NewEnricher(resolver, Options{})

	_, err := e.Image(context.Background(), "Glock")
	assert.Error(t, err)
	_, err = e.Image(context.Background(), "Glock")
	assert.Error(t, err)
	assert.Equal(t, 2, resolver.imageCalls["Glock"])
}

func TestCacheExpiryTriggersNewLookup(t *testing.T) {
	resolver := newFakeResolver()
	resolver.images["AWP"] = strPtr("https://img/awp")

	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := NewEnricher(resolver, Options{}).WithCaches(
		cache.New[*string](time.Hour).WithClock(c.now),
		cache.New[steam.Price](time.Minute).WithClock(c.now),
	)

	_, err := e.Image(context.Background(), "AWP")
	require.NoError(t, err)
	c.t = c.t.Add(time.Hour)
	_, err = e.Image(context.Background(), "AWP")
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.imageCalls["AWP"])

	c.t = c.t.Add(time.Second)
	_, err = e.Image(context.Background(), "AWP")
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.imageCalls["AWP"])
}

func TestEnrichKeepsOrderAndIsolatesFailures(t *testing.T) {
	resolver := newFakeResolver()
	resolver.images["A"] = strPtr("https://img/a")
	resolver.imageErrors["B"] = errors.New("boom")
	resolver.images["C"] = strPtr("https://img/c")
	resolver.price = steam.Price{Lowest: decimal.NewNullDecimal(decimal.RequireFromString("2.5"))}

	e := NewEnricher(resolver, Options{Concurrency: 2})
	items := []record.Item{{MarketName: "A"}, {MarketName: "B"}, {MarketName: "C"}}

	rows := e.Enrich(context.Background(), items, true)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0].MarketName)
	assert.Equal(t, "https://img/a", *rows[0].ImageURL)
	assert.Nil(t, rows[1].ImageURL)
	assert.Equal(t, "boom", rows[1].ImageError)
	assert.True(t, rows[1].SteamLowest.Valid)
	assert.Equal(t, "https://img/c", *rows[2].ImageURL)
}

func TestEnrichWithoutPricesSkipsPriceLookups(t *testing.T) {
	resolver := newFakeResolver()
	e := NewEnricher(resolver, Options{})

	rows := e.Enrich(context.Background(), []record.Item{{MarketName: "A"}}, false)
	require.Len(t, rows, 1)
	assert.Zero(t, resolver.priceCalls["A"])
	assert.False(t, rows[0].SteamLowest.Valid)
}

func TestPriceFailureSetsDiagnostic(t *testing.T) {
	resolver := newFakeResolver()
	resolver.priceErr = errors.New("status 429")
	e := NewEnricher(resolver, Options{})

	rows := e.Enrich(context.Background(), []record.Item{{MarketName: "A"}}, true)
	assert.Equal(t, "status 429", rows[0].SteamError)
	assert.False(t, rows[0].SteamLowest.Valid)
	assert.Empty(t, rows[0].ImageError)
}

func TestFromStore(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := map[string]store.Enrichment{
		"A": {
			ImageURL:       strPtr("https://img/a"),
			ImageUpdatedAt: &at,
			SteamLowest:    decimal.NewNullDecimal(decimal.RequireFromString("1.5")),
			SteamVolume:    decimal.NewNullDecimal(decimal.NewFromInt(40)),
			SteamUpdatedAt: &at,
			SteamError:     "stale",
		},
	}
	items := []record.Item{{MarketName: "A", Name: "A"}, {MarketName: "B", Name: "B"}}

	rows := FromStore(items, entries, true)
	require.Len(t, rows, 2)
	assert.Equal(t, "https://img/a", *rows[0].ImageURL)
	assert.Equal(t, "1.5", rows[0].SteamLowest.Decimal.String())
	assert.Equal(t, "40", rows[0].SteamVolume.Decimal.String())
	assert.False(t, rows[0].SteamMedian.Valid)
	assert.Equal(t, "stale", rows[0].SteamError)
	assert.Nil(t, rows[1].ImageURL)
	assert.Nil(t, rows[1].ImageUpdatedAt)

	rows = FromStore(items, entries, false)
	assert.False(t, rows[0].SteamLowest.Valid)
	assert.Empty(t, rows[0].SteamError)
}

func TestRowJSONShape(t *testing.T) {
	row := Row{MarketName: "A", SheetPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.5"))}
	data, err := json.Marshal(row)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "imageUrl")
	assert.Nil(t, decoded["imageUrl"])
	assert.Nil(t, decoded["steamLowest"])
	assert.NotContains(t, decoded, "imageError")
	assert.NotContains(t, decoded, "imageUpdatedAt")
}

func TestCSVToEnrichedRow(t *testing.T) {
	var searchCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		searchCalls.Add(1)
		assert.Equal(t, "AK-47 | Redline (Field-Tested)", r.URL.Query().Get("query"))
		w.Write([]byte(`{"success":true,"assets":{"730":{"2":{"31":{"classid":"31","icon_url":"-9a81dlWLwJ2UUGcVs_nsVtzdOEdtWwKGZZLQHTxDZ7I56KU0Zwwo4NUX4oFJZEHLbXH5ApeO4YmlhxYQknCRvCo04DEVlxkKgpot7HxfDhjxszJemkV09-5lpKKqPrxN7LEmyVQ7MEpiLuSrYmnjQO3-UdsZGHyd4_Bd1RvNQ7T_FDrw-_ng5Pu75iY1zI97bhLsvQz/62fx62f"}}}}}`))
	}))
	defer upstream.Close()

	csvBody := "Name,Wear,Float,Seed,Price,Received,Extra,Date\n" +
		`"AK-47 | Redline",Field-Tested,0.21,123,10.50,,,11/2/2025` + "\n"
	rows, err := sheets.ParseCSV(strings.NewReader(csvBody))
	require.NoError(t, err)

	header, items := record.NormalizeAll(rows, record.DefaultColumns)
	assert.Equal(t, "Name", header[0])
	require.Len(t, items, 1)

	client := steam.NewClient(steam.Options{
		SearchURL: upstream.URL,
		PriceURL:  upstream.URL,
		Retry:     retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	out := NewEnricher(client, Options{}).Enrich(context.Background(), items, false)
	require.Len(t, out, 1)

	row := out[0]
	assert.Equal(t, "AK-47 | Redline (Field-Tested)", row.MarketName)
	assert.Equal(t, "10.5", row.SheetPrice.Decimal.String())
	require.NotNil(t, row.FloatValue)
	assert.InDelta(t, 0.21, *row.FloatValue, 1e-9)
	require.NotNil(t, row.PaintSeed)
	assert.Equal(t, int64(123), *row.PaintSeed)
	require.NotNil(t, row.SheetTimestamp)
	assert.Equal(t, time.November, row.SheetTimestamp.Month())
	assert.Equal(t, 2, row.SheetTimestamp.Day())

	require.NotNil(t, row.ImageURL)
	assert.True(t, strings.HasPrefix(*row.ImageURL, steam.StaticAssetBase))
	assert.True(t, strings.HasSuffix(*row.ImageURL, "/360fx360f"))
	assert.Empty(t, row.ImageError)
	assert.Equal(t, int32(1), searchCalls.Load())
}
