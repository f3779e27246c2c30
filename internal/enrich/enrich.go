// Package enrich merges sheet records with market image and price data,
// either resolved on demand through TTL caches or read back from the store.
package enrich

import (
	"context"
	"time"

	"skin_sheet/internal/cache"
	"skin_sheet/internal/fanout"
	"skin_sheet/internal/record"
	"skin_sheet/internal/steam"
	"skin_sheet/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DefaultImageTTL    = 12 * time.Hour
	DefaultPriceTTL    = 30 * time.Minute
	DefaultConcurrency = 4
)

// Resolver looks up market data for one market name. *steam.Client
// implements it.
type Resolver interface {
	ResolveImage(ctx context.Context, marketName string) (*string, error)
	ResolvePrice(ctx context.Context, marketName string) (steam.Price, error)
}

// Row is one item of the response payload.
type Row struct {
	MarketName     string              `json:"marketName"`
	Name           string              `json:"name"`
	Wear           string              `json:"wear"`
	FloatValue     *float64            `json:"floatValue"`
	PaintSeed      *int64              `json:"paintSeed"`
	SheetPrice     decimal.NullDecimal `json:"sheetPrice"`
	SheetTimestamp *time.Time          `json:"sheetTimestamp"`
	ReceivedAgo    string              `json:"receivedAgo"`
	Extra          string              `json:"extra"`
	RawRow         []string            `json:"rawRow"`

	ImageURL       *string             `json:"imageUrl"`
	SteamLowest    decimal.NullDecimal `json:"steamLowest"`
	SteamMedian    decimal.NullDecimal `json:"steamMedian"`
	SteamVolume    decimal.NullDecimal `json:"steamVolume"`
	ImageUpdatedAt *time.Time          `json:"imageUpdatedAt,omitempty"`
	SteamUpdatedAt *time.Time          `json:"steamUpdatedAt,omitempty"`
	ImageError     string              `json:"imageError,omitempty"`
	SteamError     string              `json:"steamError,omitempty"`
}

func baseRow(item record.Item) Row {
	return Row{
		MarketName:     item.MarketName,
		Name:           item.Name,
		Wear:           item.Wear,
		FloatValue:     item.Float,
		PaintSeed:      item.PaintSeed,
		SheetPrice:     item.SheetPrice,
		SheetTimestamp: item.SheetTimestamp,
		ReceivedAgo:    item.ReceivedAgo,
		Extra:          item.Extra,
		RawRow:         item.Raw,
	}
}

type Options struct {
	ImageTTL    time.Duration
	PriceTTL    time.Duration
	Concurrency int
}

// Enricher resolves market data on the request path. Successful lookups,
// including confirmed misses, are cached; failures are not.
type Enricher struct {
	resolver    Resolver
	images      *cache.TTL[*string]
	prices      *cache.TTL[steam.Price]
	concurrency int
}

func NewEnricher(resolver Resolver, opts Options) *Enricher {
	if opts.ImageTTL <= 0 {
		opts.ImageTTL = DefaultImageTTL
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = DefaultPriceTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Enricher{
		resolver:    resolver,
		images:      cache.New[*string](opts.ImageTTL),
		prices:      cache.New[steam.Price](opts.PriceTTL),
		concurrency: opts.Concurrency,
	}
}

// WithCaches swaps in caller-owned caches, mostly so tests control the clock.
func (e *Enricher) WithCaches(images *cache.TTL[*string], prices *cache.TTL[steam.Price]) *Enricher {
	e.images = images
	e.prices = prices
	return e
}

func (e *Enricher) Image(ctx context.Context, marketName string) (*string, error) {
	if url, ok := e.images.Get(marketName); ok {
		return url, nil
	}
	url, err := e.resolver.ResolveImage(ctx, marketName)
	if err != nil {
		return nil, err
	}
	e.images.Set(marketName, url)
	return url, nil
}

func (e *Enricher) Price(ctx context.Context, marketName string) (steam.Price, error) {
	if price, ok := e.prices.Get(marketName); ok {
		return price, nil
	}
	price, err := e.resolver.ResolvePrice(ctx, marketName)
	if err != nil {
		return steam.Price{}, err
	}
	e.prices.Set(marketName, price)
	return price, nil
}

// Enrich resolves every item with bounded concurrency. Output order matches
// items. A failed lookup leaves its fields empty and sets the error string.
func (e *Enricher) Enrich(ctx context.Context, items []record.Item, includePrices bool) []Row {
	return fanout.Map(ctx, items, e.concurrency, func(ctx context.Context, item record.Item) Row {
		row := baseRow(item)

		url, err := e.Image(ctx, item.MarketName)
		if err != nil {
			log.Warn().Err(err).Str("market_name", item.MarketName).Msg("Image lookup failed")
			row.ImageError = err.Error()
		} else {
			row.ImageURL = url
		}

		if includePrices {
			price, err := e.Price(ctx, item.MarketName)
			if err != nil {
				log.Warn().Err(err).Str("market_name", item.MarketName).Msg("Price lookup failed")
				row.SteamError = err.Error()
			} else {
				row.setPrice(price)
			}
		}
		return row
	})
}

func (r *Row) setPrice(p steam.Price) {
	r.SteamLowest = p.Lowest
	r.SteamMedian = p.Median
	r.SteamVolume = p.Volume
}

// FromStore builds rows from persisted enrichment. Items without an entry get
// empty enrichment fields.
func FromStore(items []record.Item, entries map[string]store.Enrichment, includePrices bool) []Row {
	rows := make([]Row, len(items))
	for i, item := range items {
		row := baseRow(item)
		if entry, ok := entries[item.MarketName]; ok {
			row.ImageURL = entry.ImageURL
			row.ImageUpdatedAt = entry.ImageUpdatedAt
			row.ImageError = entry.ImageError
			if includePrices {
				row.setPrice(entry.Price())
				row.SteamUpdatedAt = entry.SteamUpdatedAt
				row.SteamError = entry.SteamError
			}
		}
		rows[i] = row
	}
	return rows
}
