// Package refresh keeps persisted enrichment fresh in the background.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skin_sheet/internal/config"
	"skin_sheet/internal/enrich"
	"skin_sheet/internal/fanout"
	"skin_sheet/internal/retry"
	"skin_sheet/internal/store"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	ScanLimit      int
	CandidateLimit int
	Concurrency    int
	Interval       time.Duration
	ImageTTL       time.Duration
	PriceTTL       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ScanLimit:      200,
		CandidateLimit: 60,
		Concurrency:    1,
		Interval:       30 * time.Second,
		ImageTTL:       enrich.DefaultImageTTL,
		PriceTTL:       enrich.DefaultPriceTTL,
	}
}

// Need says which enrichment kinds of a record should be re-resolved.
type Need struct {
	Image bool
	Price bool
}

func (n Need) Any() bool {
	return n.Image || n.Price
}

// NeedFor reports the stale kinds of e. A confirmed missing image still
// inside its window is not stale.
func NeedFor(e store.Enrichment, now time.Time, imageTTL, priceTTL time.Duration) Need {
	return Need{
		Image: !e.ImageFresh(now, imageTTL),
		Price: !e.PriceFresh(now, priceTTL),
	}
}

// Outcome is the result of one RefreshOne call.
type Outcome struct {
	Skipped  bool
	ImageErr error
	PriceErr error
}

type CycleStats struct {
	Scanned       int
	Candidates    int
	Refreshed     int
	Skipped       int
	ImageFailures int
	PriceFailures int
}

type Refresher struct {
	store       store.Store
	resolver    enrich.Resolver
	inFlight    *InFlight
	settings    Settings
	writePolicy retry.Config
	now         func() time.Time
}

func NewRefresher(s store.Store, resolver enrich.Resolver, inFlight *InFlight, settings Settings) *Refresher {
	defaults := DefaultSettings()
	if settings.ScanLimit <= 0 {
		settings.ScanLimit = defaults.ScanLimit
	}
	if settings.CandidateLimit <= 0 {
		settings.CandidateLimit = defaults.CandidateLimit
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = defaults.Concurrency
	}
	if settings.Interval <= 0 {
		settings.Interval = defaults.Interval
	}
	if settings.ImageTTL <= 0 {
		settings.ImageTTL = defaults.ImageTTL
	}
	if settings.PriceTTL <= 0 {
		settings.PriceTTL = defaults.PriceTTL
	}
	if inFlight == nil {
		inFlight = NewInFlight()
	}

	policy := config.DefaultResilienceConfig.StoreWrite
	policy.Retryable = func(err error) bool { return !errors.Is(err, store.ErrNotFound) }

	return &Refresher{
		store:       s,
		resolver:    resolver,
		inFlight:    inFlight,
		settings:    settings,
		writePolicy: policy,
		now:         time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (r *Refresher) WithClock(now func() time.Time) *Refresher {
	r.now = now
	return r
}

func (r *Refresher) Settings() Settings {
	return r.settings
}

func (r *Refresher) persist(ctx context.Context, write func(context.Context) error) error {
	_, err := retry.WithRetry(ctx, r.writePolicy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, write(ctx)
	})
	return err
}

// RefreshOne re-resolves the requested kinds for one record and writes the
// results. If a refresh for the same name is already running it returns a
// skipped outcome without calling the resolver.
func (r *Refresher) RefreshOne(ctx context.Context, marketName string, need Need) Outcome {
	if !need.Any() {
		return Outcome{Skipped: true}
	}
	if !r.inFlight.TryAcquire(marketName) {
		log.Debug().Str("market_name", marketName).Msg("Refresh already in flight, skipping")
		return Outcome{Skipped: true}
	}
	defer r.inFlight.Release(marketName)

	var outcome Outcome

	if need.Image {
		url, err := r.resolver.ResolveImage(ctx, marketName)
		if err != nil {
			outcome.ImageErr = err
			msg := err.Error()
			err = r.persist(ctx, func(ctx context.Context) error {
				return r.store.RecordImageError(ctx, marketName, msg)
			})
		} else {
			at := r.now()
			err = r.persist(ctx, func(ctx context.Context) error {
				return r.store.UpdateImage(ctx, marketName, url, at)
			})
		}
		if err != nil {
			log.Error().Err(err).Str("market_name", marketName).Msg("Failed to persist image refresh")
		}
	}

	if need.Price {
		price, err := r.resolver.ResolvePrice(ctx, marketName)
		if err != nil {
			outcome.PriceErr = err
			msg := err.Error()
			err = r.persist(ctx, func(ctx context.Context) error {
				return r.store.RecordPriceError(ctx, marketName, msg)
			})
		} else {
			at := r.now()
			err = r.persist(ctx, func(ctx context.Context) error {
				return r.store.UpdatePrice(ctx, marketName, price, at)
			})
		}
		if err != nil {
			log.Error().Err(err).Str("market_name", marketName).Msg("Failed to persist price refresh")
		}
	}

	return outcome
}

// StillNeeded narrows need to the kinds that are stale in the store right
// now. A record that is gone needs nothing. If the store can't be read the
// need is returned unchanged.
func (r *Refresher) StillNeeded(ctx context.Context, marketName string, need Need) Need {
	entries, err := r.store.Get(ctx, []string{marketName})
	if err != nil {
		log.Warn().Err(err).Str("market_name", marketName).Msg("Failed to re-check record before refresh")
		return need
	}
	entry, ok := entries[marketName]
	if !ok {
		return Need{}
	}
	current := NeedFor(entry, r.now(), r.settings.ImageTTL, r.settings.PriceTTL)
	return Need{
		Image: need.Image && current.Image,
		Price: need.Price && current.Price,
	}
}

type candidate struct {
	marketName string
	need       Need
}

// Cycle scans recently seen records, picks the stale ones and refreshes
// them. Only a failed scan is returned as an error.
func (r *Refresher) Cycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	entries, err := r.store.FindRecent(ctx, r.settings.ScanLimit)
	if err != nil {
		return stats, fmt.Errorf("scan recent items: %w", err)
	}
	stats.Scanned = len(entries)

	now := r.now()
	var candidates []candidate
	for _, entry := range entries {
		need := NeedFor(entry.Enrichment, now, r.settings.ImageTTL, r.settings.PriceTTL)
		if !need.Any() {
			continue
		}
		candidates = append(candidates, candidate{marketName: entry.MarketName, need: need})
		if len(candidates) >= r.settings.CandidateLimit {
			break
		}
	}
	stats.Candidates = len(candidates)

	outcomes := fanout.Map(ctx, candidates, r.settings.Concurrency, func(ctx context.Context, c candidate) Outcome {
		return r.RefreshOne(ctx, c.marketName, c.need)
	})
	for _, o := range outcomes {
		if o.Skipped {
			stats.Skipped++
			continue
		}
		stats.Refreshed++
		if o.ImageErr != nil {
			stats.ImageFailures++
		}
		if o.PriceErr != nil {
			stats.PriceFailures++
		}
	}
	return stats, nil
}

// Run performs a cycle right away and then one per interval until ctx is
// done. Cycle failures are logged and the loop keeps going.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.settings.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.settings.Interval).Msg("Starting refresh loop")
	for {
		r.runCycle(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Refresh loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Refresher) runCycle(ctx context.Context) {
	runID := ulid.Make().String()
	start := time.Now()

	stats, err := r.Cycle(ctx)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Refresh cycle failed")
		return
	}
	log.Info().
		Str("run_id", runID).
		Int("scanned", stats.Scanned).
		Int("candidates", stats.Candidates).
		Int("refreshed", stats.Refreshed).
		Int("skipped", stats.Skipped).
		Int("image_failures", stats.ImageFailures).
		Int("price_failures", stats.PriceFailures).
		Dur("took", time.Since(start)).
		Msg("Refresh cycle complete")
}
