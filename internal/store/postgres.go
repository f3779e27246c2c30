package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"skin_sheet/internal/record"
	"skin_sheet/internal/steam"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on a pgx connection pool. Decimals are kept
// as text so values round-trip exactly through decimal.NullDecimal.
type PostgresStore struct {
	dbpool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	dbpool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	s := &PostgresStore{dbpool: dbpool}
	if err := s.createItemsTable(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createItemsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		market_name      TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		wear             TEXT NOT NULL DEFAULT '',
		float_value      DOUBLE PRECISION,
		paint_seed       BIGINT,
		sheet_price      TEXT,
		sheet_timestamp  TIMESTAMPTZ,
		received_ago     TEXT NOT NULL DEFAULT '',
		raw_row          JSONB NOT NULL,
		row_hash         VARCHAR(16) NOT NULL,
		first_seen_at    TIMESTAMPTZ NOT NULL,
		last_seen_at     TIMESTAMPTZ NOT NULL,
		image_url        TEXT,
		image_updated_at TIMESTAMPTZ,
		image_error      TEXT,
		steam_lowest     TEXT,
		steam_median     TEXT,
		steam_volume     TEXT,
		steam_updated_at TIMESTAMPTZ,
		steam_error      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_last_seen ON items (last_seen_at DESC);`

	if _, err := s.dbpool.Exec(ctx, query); err != nil {
		return fmt.Errorf("error creating items table: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertRecords(ctx context.Context, items []record.Item, seenAt time.Time) (UpsertResult, error) {
	var result UpsertResult

	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		raw, _ := json.Marshal(item.Raw)

		// xmax = 0 only for freshly inserted tuples
		var inserted, changed bool
		err := tx.QueryRow(ctx, `
			WITH prev AS (SELECT row_hash FROM items WHERE market_name = $1)
			INSERT INTO items (market_name, name, wear, float_value, paint_seed, sheet_price,
				sheet_timestamp, received_ago, raw_row, row_hash, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (market_name) DO UPDATE SET
				name = EXCLUDED.name, wear = EXCLUDED.wear, float_value = EXCLUDED.float_value,
				paint_seed = EXCLUDED.paint_seed, sheet_price = EXCLUDED.sheet_price,
				sheet_timestamp = EXCLUDED.sheet_timestamp, received_ago = EXCLUDED.received_ago,
				raw_row = EXCLUDED.raw_row, row_hash = EXCLUDED.row_hash,
				last_seen_at = EXCLUDED.last_seen_at
			RETURNING (xmax = 0), COALESCE((SELECT row_hash FROM prev), '') <> $10`,
			item.MarketName, item.Name, item.Wear, item.Float, item.PaintSeed, item.SheetPrice,
			item.SheetTimestamp, item.ReceivedAgo, raw, item.RowHash, seenAt,
		).Scan(&inserted, &changed)
		if err != nil {
			return result, fmt.Errorf("upsert item %q: %w", item.MarketName, err)
		}

		switch {
		case inserted:
			result.Inserted = append(result.Inserted, item.MarketName)
		case changed:
			result.Changed++
		default:
			result.Unchanged++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit upsert: %w", err)
	}

	log.Debug().
		Int("inserted", len(result.Inserted)).
		Int("changed", result.Changed).
		Int("unchanged", result.Unchanged).
		Msg("Upserted items into postgres")
	return result, nil
}

func scanPgEnrichment(row pgx.Row, prefix ...any) (Enrichment, error) {
	var (
		e                  Enrichment
		imageErr, steamErr *string
	)
	dest := append(prefix, &e.ImageURL, &e.ImageUpdatedAt, &imageErr,
		&e.SteamLowest, &e.SteamMedian, &e.SteamVolume, &e.SteamUpdatedAt, &steamErr)
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	if imageErr != nil {
		e.ImageError = *imageErr
	}
	if steamErr != nil {
		e.SteamError = *steamErr
	}
	return e, nil
}

func (s *PostgresStore) FindRecent(ctx context.Context, limit int) ([]Entry, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.dbpool.Query(ctx,
		`SELECT market_name, last_seen_at, first_seen_at, `+enrichmentColumns+`
		 FROM items ORDER BY last_seen_at DESC, market_name ASC LIMIT $1`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("find recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		e, err := scanPgEnrichment(rows, &entry.MarketName, &entry.LastSeenAt, &entry.FirstSeenAt)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		entry.Enrichment = e
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, marketNames []string) (map[string]Enrichment, error) {
	out := make(map[string]Enrichment, len(marketNames))
	if len(marketNames) == 0 {
		return out, nil
	}

	rows, err := s.dbpool.Query(ctx,
		`SELECT market_name, `+enrichmentColumns+` FROM items WHERE market_name = ANY($1)`, marketNames)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		e, err := scanPgEnrichment(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[name] = e
	}
	return out, rows.Err()
}

func (s *PostgresStore) exec(ctx context.Context, marketName, query string, args ...any) error {
	tag, err := s.dbpool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %q: %w", marketName, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateImage(ctx context.Context, marketName string, url *string, at time.Time) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET image_url = $1, image_updated_at = $2, image_error = NULL WHERE market_name = $3`,
		url, at, marketName)
}

func (s *PostgresStore) UpdatePrice(ctx context.Context, marketName string, price steam.Price, at time.Time) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET steam_lowest = $1, steam_median = $2, steam_volume = $3, steam_updated_at = $4,
		 steam_error = NULL WHERE market_name = $5`,
		price.Lowest, price.Median, price.Volume, at, marketName)
}

func (s *PostgresStore) RecordImageError(ctx context.Context, marketName string, msg string) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET image_error = $1 WHERE market_name = $2`, msg, marketName)
}

func (s *PostgresStore) RecordPriceError(ctx context.Context, marketName string, msg string) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET steam_error = $1 WHERE market_name = $2`, msg, marketName)
}

func (s *PostgresStore) Close() error {
	s.dbpool.Close()
	return nil
}
