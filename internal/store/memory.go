package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"skin_sheet/internal/record"
	"skin_sheet/internal/steam"
)

type memoryRow struct {
	item        record.Item
	firstSeenAt time.Time
	lastSeenAt  time.Time
	enrichment  Enrichment
}

// MemoryStore keeps everything in a map. Used when no database is configured
// for persistent mode, and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*memoryRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*memoryRow)}
}

func (s *MemoryStore) UpsertRecords(ctx context.Context, items []record.Item, seenAt time.Time) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result UpsertResult
	for _, item := range items {
		row, ok := s.rows[item.MarketName]
		if !ok {
			s.rows[item.MarketName] = &memoryRow{item: item, firstSeenAt: seenAt, lastSeenAt: seenAt}
			result.Inserted = append(result.Inserted, item.MarketName)
			continue
		}
		if row.item.RowHash == item.RowHash {
			result.Unchanged++
		} else {
			result.Changed++
		}
		row.item = item
		row.lastSeenAt = seenAt
	}
	return result, nil
}

func (s *MemoryStore) FindRecent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.rows))
	for name, row := range s.rows {
		entries = append(entries, Entry{
			MarketName:  name,
			LastSeenAt:  row.lastSeenAt,
			FirstSeenAt: row.firstSeenAt,
			Enrichment:  row.enrichment,
		})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeenAt.Equal(entries[j].LastSeenAt) {
			return entries[i].MarketName < entries[j].MarketName
		}
		return entries[i].LastSeenAt.After(entries[j].LastSeenAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) Get(ctx context.Context, marketNames []string) (map[string]Enrichment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Enrichment, len(marketNames))
	for _, name := range marketNames {
		if row, ok := s.rows[name]; ok {
			out[name] = row.enrichment
		}
	}
	return out, nil
}

func (s *MemoryStore) update(marketName string, apply func(*Enrichment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[marketName]
	if !ok {
		return ErrNotFound
	}
	apply(&row.enrichment)
	return nil
}

func (s *MemoryStore) UpdateImage(ctx context.Context, marketName string, url *string, at time.Time) error {
	return s.update(marketName, func(e *Enrichment) {
		if url != nil {
			u := *url
			url = &u
		}
		e.ImageURL = url
		e.ImageUpdatedAt = &at
		e.ImageError = ""
	})
}

func (s *MemoryStore) UpdatePrice(ctx context.Context, marketName string, price steam.Price, at time.Time) error {
	return s.update(marketName, func(e *Enrichment) {
		e.SteamLowest = price.Lowest
		e.SteamMedian = price.Median
		e.SteamVolume = price.Volume
		e.SteamUpdatedAt = &at
		e.SteamError = ""
	})
}

func (s *MemoryStore) RecordImageError(ctx context.Context, marketName string, msg string) error {
	return s.update(marketName, func(e *Enrichment) {
		e.ImageError = msg
	})
}

func (s *MemoryStore) RecordPriceError(ctx context.Context, marketName string, msg string) error {
	return s.update(marketName, func(e *Enrichment) {
		e.SteamError = msg
	})
}

func (s *MemoryStore) Close() error {
	return nil
}
