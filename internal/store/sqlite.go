package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"skin_sheet/internal/record"
	"skin_sheet/internal/steam"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// request path and refresh loop write concurrently; serialize on one conn
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		market_name      TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		wear             TEXT NOT NULL DEFAULT '',
		float_value      REAL,
		paint_seed       INTEGER,
		sheet_price      TEXT,
		sheet_timestamp  TEXT,
		received_ago     TEXT NOT NULL DEFAULT '',
		raw_row          TEXT NOT NULL,
		row_hash         TEXT NOT NULL,
		first_seen_at    TEXT NOT NULL,
		last_seen_at     TEXT NOT NULL,
		image_url        TEXT,
		image_updated_at TEXT,
		image_error      TEXT,
		steam_lowest     TEXT,
		steam_median     TEXT,
		steam_volume     TEXT,
		steam_updated_at TEXT,
		steam_error      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_last_seen ON items(last_seen_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) UpsertRecords(ctx context.Context, items []record.Item, seenAt time.Time) (UpsertResult, error) {
	var result UpsertResult
	seen := formatTime(seenAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	for _, item := range items {
		raw, _ := json.Marshal(item.Raw)

		var prevHash string
		err := tx.QueryRowContext(ctx,
			`SELECT row_hash FROM items WHERE market_name = ?`, item.MarketName).Scan(&prevHash)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO items (market_name, name, wear, float_value, paint_seed, sheet_price,
				 sheet_timestamp, received_ago, raw_row, row_hash, first_seen_at, last_seen_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.MarketName, item.Name, item.Wear, item.Float, item.PaintSeed, item.SheetPrice,
				formatTimePtr(item.SheetTimestamp), item.ReceivedAgo, string(raw), item.RowHash, seen, seen)
			if err != nil {
				return result, fmt.Errorf("insert item %q: %w", item.MarketName, err)
			}
			result.Inserted = append(result.Inserted, item.MarketName)
			continue
		case err != nil:
			return result, fmt.Errorf("lookup item %q: %w", item.MarketName, err)
		}

		if prevHash == item.RowHash {
			result.Unchanged++
			_, err = tx.ExecContext(ctx,
				`UPDATE items SET last_seen_at = ? WHERE market_name = ?`, seen, item.MarketName)
		} else {
			result.Changed++
			_, err = tx.ExecContext(ctx,
				`UPDATE items SET name = ?, wear = ?, float_value = ?, paint_seed = ?, sheet_price = ?,
				 sheet_timestamp = ?, received_ago = ?, raw_row = ?, row_hash = ?, last_seen_at = ?
				 WHERE market_name = ?`,
				item.Name, item.Wear, item.Float, item.PaintSeed, item.SheetPrice,
				formatTimePtr(item.SheetTimestamp), item.ReceivedAgo, string(raw), item.RowHash, seen,
				item.MarketName)
		}
		if err != nil {
			return result, fmt.Errorf("update item %q: %w", item.MarketName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

const enrichmentColumns = `image_url, image_updated_at, image_error,
	steam_lowest, steam_median, steam_volume, steam_updated_at, steam_error`

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrichment(row scanner, prefix ...any) (Enrichment, error) {
	var (
		e                           Enrichment
		imageURL, imageAt, imageErr sql.NullString
		steamAt, steamErr           sql.NullString
	)
	dest := append(prefix, &imageURL, &imageAt, &imageErr,
		&e.SteamLowest, &e.SteamMedian, &e.SteamVolume, &steamAt, &steamErr)
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	e.ImageURL = nullString(imageURL)
	e.ImageUpdatedAt = parseTime(imageAt)
	e.ImageError = imageErr.String
	e.SteamUpdatedAt = parseTime(steamAt)
	e.SteamError = steamErr.String
	return e, nil
}

func (s *SQLiteStore) FindRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_name, last_seen_at, first_seen_at, `+enrichmentColumns+`
		 FROM items ORDER BY last_seen_at DESC, market_name ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("find recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var name string
		var lastSeen, firstSeen sql.NullString
		e, err := scanEnrichment(rows, &name, &lastSeen, &firstSeen)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		entry := Entry{MarketName: name, Enrichment: e}
		if t := parseTime(lastSeen); t != nil {
			entry.LastSeenAt = *t
		}
		if t := parseTime(firstSeen); t != nil {
			entry.FirstSeenAt = *t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, marketNames []string) (map[string]Enrichment, error) {
	out := make(map[string]Enrichment, len(marketNames))
	if len(marketNames) == 0 {
		return out, nil
	}

	// stay well under SQLite's bound parameter limit
	const chunk = 500
	for start := 0; start < len(marketNames); start += chunk {
		end := min(start+chunk, len(marketNames))
		names := marketNames[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
		args := make([]any, len(names))
		for i, n := range names {
			args[i] = n
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT market_name, `+enrichmentColumns+` FROM items WHERE market_name IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("get items: %w", err)
		}
		for rows.Next() {
			var name string
			e, err := scanEnrichment(rows, &name)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan item: %w", err)
			}
			out[name] = e
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) exec(ctx context.Context, marketName, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %q: %w", marketName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateImage(ctx context.Context, marketName string, url *string, at time.Time) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET image_url = ?, image_updated_at = ?, image_error = NULL WHERE market_name = ?`,
		url, formatTime(at), marketName)
}

func (s *SQLiteStore) UpdatePrice(ctx context.Context, marketName string, price steam.Price, at time.Time) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET steam_lowest = ?, steam_median = ?, steam_volume = ?, steam_updated_at = ?,
		 steam_error = NULL WHERE market_name = ?`,
		price.Lowest, price.Median, price.Volume, formatTime(at), marketName)
}

func (s *SQLiteStore) RecordImageError(ctx context.Context, marketName string, msg string) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET image_error = ? WHERE market_name = ?`, msg, marketName)
}

func (s *SQLiteStore) RecordPriceError(ctx context.Context, marketName string, msg string) error {
	return s.exec(ctx, marketName,
		`UPDATE items SET steam_error = ? WHERE market_name = ?`, msg, marketName)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
