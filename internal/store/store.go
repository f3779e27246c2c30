// Package store persists item records and their enrichment fields keyed by
// market name.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skin_sheet/internal/record"
	"skin_sheet/internal/steam"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by field updates for an unknown market name.
var ErrNotFound = errors.New("item not found")

// Enrichment is the set of fields resolved from the market.
//
// A nil ImageURL with a non-nil ImageUpdatedAt is a confirmed miss; a nil
// ImageUpdatedAt means no lookup has succeeded yet.
type Enrichment struct {
	ImageURL       *string
	ImageUpdatedAt *time.Time
	ImageError     string

	SteamLowest    decimal.NullDecimal
	SteamMedian    decimal.NullDecimal
	SteamVolume    decimal.NullDecimal
	SteamUpdatedAt *time.Time
	SteamError     string
}

func fresh(updatedAt *time.Time, now time.Time, ttl time.Duration) bool {
	return updatedAt != nil && now.Sub(*updatedAt) <= ttl
}

func (e Enrichment) ImageFresh(now time.Time, ttl time.Duration) bool {
	return fresh(e.ImageUpdatedAt, now, ttl)
}

func (e Enrichment) PriceFresh(now time.Time, ttl time.Duration) bool {
	return fresh(e.SteamUpdatedAt, now, ttl)
}

// Price returns the stored price fields in resolver form.
func (e Enrichment) Price() steam.Price {
	return steam.Price{Lowest: e.SteamLowest, Median: e.SteamMedian, Volume: e.SteamVolume}
}

// Entry is a stored record as seen by the refresh loop.
type Entry struct {
	MarketName  string
	LastSeenAt  time.Time
	FirstSeenAt time.Time
	Enrichment
}

type UpsertResult struct {
	Inserted  []string
	Changed   int
	Unchanged int
}

// Store is the persistence contract. Field updates are scoped: image writes
// never touch price columns and the other way round.
type Store interface {
	// UpsertRecords inserts unknown records and refreshes sheet fields of
	// known ones. Every record's last seen time becomes seenAt.
	UpsertRecords(ctx context.Context, items []record.Item, seenAt time.Time) (UpsertResult, error)

	// FindRecent returns up to limit entries, most recently seen first.
	FindRecent(ctx context.Context, limit int) ([]Entry, error)

	// Get returns enrichment for the given market names. Unknown names are
	// left out of the map.
	Get(ctx context.Context, marketNames []string) (map[string]Enrichment, error)

	// UpdateImage stores a successful lookup (url may be nil) and clears the
	// image error.
	UpdateImage(ctx context.Context, marketName string, url *string, at time.Time) error

	// UpdatePrice stores a successful price lookup and clears the price error.
	UpdatePrice(ctx context.Context, marketName string, price steam.Price, at time.Time) error

	// RecordImageError and RecordPriceError keep the previous value and only
	// note the failure.
	RecordImageError(ctx context.Context, marketName string, msg string) error
	RecordPriceError(ctx context.Context, marketName string, msg string) error

	Close() error
}

// Open picks an implementation from the DSN: postgres URLs use pgx, "memory"
// keeps everything in process, anything else is a SQLite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, errors.New("empty store dsn")
	case dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		s, err := NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}
