// Package pipeline runs one pass from the sheet to an enriched payload.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"skin_sheet/internal/enrich"
	"skin_sheet/internal/notifications"
	"skin_sheet/internal/record"
	"skin_sheet/internal/refresh"
	"skin_sheet/internal/sheets"
	"skin_sheet/internal/store"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Payload is what the read endpoint returns.
type Payload struct {
	Header []string     `json:"header"`
	Items  []enrich.Row `json:"items"`
}

// Notifier is told about records that were stored for the first time.
type Notifier interface {
	NotifyNewItems(ctx context.Context, items []notifications.NewItem)
}

type IngestSummary struct {
	RunID     string
	Rows      int
	Items     int
	Inserted  []string
	Changed   int
	Unchanged int
}

type Options struct {
	Source  sheets.Source
	Columns record.Columns

	// Store switches the service to persistent mode. When nil every Load
	// resolves through Enricher instead.
	Store    store.Store
	Queue    *refresh.Queue
	Enricher *enrich.Enricher
	Notifier Notifier

	ImageTTL time.Duration
	PriceTTL time.Duration
}

type Service struct {
	opts Options
	now  func() time.Time
}

func NewService(opts Options) *Service {
	if opts.ImageTTL <= 0 {
		opts.ImageTTL = enrich.DefaultImageTTL
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = enrich.DefaultPriceTTL
	}
	return &Service{opts: opts, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Persistent() bool {
	return s.opts.Store != nil
}

func (s *Service) read(ctx context.Context) ([]string, []record.Item, error) {
	rows, err := sheets.ReadRows(ctx, s.opts.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet: %w", err)
	}
	header, items := record.NormalizeAll(rows, s.opts.Columns)
	return header, items, nil
}

func (s *Service) upsert(ctx context.Context, runID string, items []record.Item) (store.UpsertResult, error) {
	result, err := s.opts.Store.UpsertRecords(ctx, items, s.now())
	if err != nil {
		return result, fmt.Errorf("upsert items: %w", err)
	}

	log.Info().
		Str("run_id", runID).
		Int("inserted", len(result.Inserted)).
		Int("changed", result.Changed).
		Int("unchanged", result.Unchanged).
		Msg("Stored sheet items")

	if s.opts.Notifier != nil && len(result.Inserted) > 0 {
		byName := make(map[string]record.Item, len(items))
		for _, item := range items {
			byName[item.MarketName] = item
		}
		newItems := make([]notifications.NewItem, 0, len(result.Inserted))
		for _, name := range result.Inserted {
			newItems = append(newItems, notifications.NewItem{
				MarketName: name,
				SheetPrice: byName[name].SheetPrice,
			})
		}
		s.opts.Notifier.NotifyNewItems(ctx, newItems)
	}
	return result, nil
}

// Ingest reads the sheet and stores every record without enriching. It needs
// a store.
func (s *Service) Ingest(ctx context.Context) (IngestSummary, error) {
	summary := IngestSummary{RunID: ulid.Make().String()}
	if s.opts.Store == nil {
		return summary, fmt.Errorf("ingest needs a store: set DATABASE_URL")
	}

	rows, err := sheets.ReadRows(ctx, s.opts.Source)
	if err != nil {
		return summary, fmt.Errorf("read sheet: %w", err)
	}
	_, items := record.NormalizeAll(rows, s.opts.Columns)
	summary.Rows = max(len(rows)-1, 0)
	summary.Items = len(items)

	result, err := s.upsert(ctx, summary.RunID, items)
	if err != nil {
		return summary, err
	}
	summary.Inserted = result.Inserted
	summary.Changed = result.Changed
	summary.Unchanged = result.Unchanged
	return summary, nil
}

// Load builds the response payload. A sheet or store failure fails the whole
// load; per-item lookup failures only show up as error strings on rows.
func (s *Service) Load(ctx context.Context, includePrices bool) (Payload, error) {
	runID := ulid.Make().String()
	start := time.Now()

	header, items, err := s.read(ctx)
	if err != nil {
		return Payload{}, err
	}

	var rows []enrich.Row
	if s.Persistent() {
		rows, err = s.loadPersistent(ctx, runID, items, includePrices)
		if err != nil {
			return Payload{}, err
		}
	} else {
		rows = s.opts.Enricher.Enrich(ctx, items, includePrices)
	}

	log.Debug().
		Str("run_id", runID).
		Bool("persistent", s.Persistent()).
		Bool("prices", includePrices).
		Int("items", len(rows)).
		Dur("took", time.Since(start)).
		Msg("Loaded sheet payload")

	if header == nil {
		header = []string{}
	}
	if rows == nil {
		rows = []enrich.Row{}
	}
	return Payload{Header: header, Items: rows}, nil
}

func (s *Service) loadPersistent(ctx context.Context, runID string, items []record.Item, includePrices bool) ([]enrich.Row, error) {
	if _, err := s.upsert(ctx, runID, items); err != nil {
		return nil, err
	}

	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.MarketName
	}
	entries, err := s.opts.Store.Get(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load enrichment: %w", err)
	}

	if s.opts.Queue != nil {
		now := s.now()
		queued, dropped := 0, 0
		for _, name := range names {
			need := refresh.NeedFor(entries[name], now, s.opts.ImageTTL, s.opts.PriceTTL)
			if !includePrices {
				need.Price = false
			}
			if !need.Any() {
				continue
			}
			if s.opts.Queue.Enqueue(refresh.Intent{MarketName: name, Need: need}) {
				queued++
			} else {
				dropped++
			}
		}
		if queued > 0 || dropped > 0 {
			log.Debug().
				Str("run_id", runID).
				Int("queued", queued).
				Int("dropped", dropped).
				Msg("Queued refresh intents")
		}
	}

	return enrich.FromStore(items, entries, includePrices), nil
}
