// Package record turns raw sheet rows into typed item records keyed by their
// market identifier.
package record

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Item is one normalized sheet row.
type Item struct {
	MarketName     string
	Name           string
	Wear           string
	Float          *float64
	PaintSeed      *int64
	SheetPrice     decimal.NullDecimal
	SheetTimestamp *time.Time
	ReceivedAgo    string
	Extra          string
	Raw            []string
	RowHash        string
}

// Columns maps item fields to sheet column indexes. A negative index means the
// sheet has no such column.
type Columns struct {
	Name        int
	Wear        int
	Float       int
	PaintSeed   int
	Price       int
	ReceivedAgo int
	Extra       int
	Timestamp   int
}

// DefaultColumns is the layout of the published trade sheet.
var DefaultColumns = Columns{
	Name:        0,
	Wear:        1,
	Float:       2,
	PaintSeed:   3,
	Price:       4,
	ReceivedAgo: 5,
	Extra:       6,
	Timestamp:   7,
}

// MarketName builds the market identifier, e.g. "AK-47 | Slate (Well-Worn)".
func MarketName(name, wear string) string {
	name = strings.TrimSpace(name)
	wear = strings.TrimSpace(wear)
	if wear == "" {
		return name
	}
	return name + " (" + wear + ")"
}

// RowHash fingerprints a raw row so unchanged rows can be told apart on upsert.
func RowHash(row []string) string {
	digest := xxhash.New()
	digest.WriteString(strings.Join(row, "\x1f"))
	return hex.EncodeToString(digest.Sum(nil))
}

func cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

// Normalize converts one row. It returns false when the name column is empty.
func Normalize(row []string, cols Columns) (Item, bool) {
	name := cell(row, cols.Name)
	if name == "" {
		return Item{}, false
	}
	wear := cell(row, cols.Wear)

	item := Item{
		MarketName:     MarketName(name, wear),
		Name:           name,
		Wear:           wear,
		SheetPrice:     ParseDecimal(cell(row, cols.Price)),
		SheetTimestamp: ParseDate(cell(row, cols.Timestamp)),
		ReceivedAgo:    cell(row, cols.ReceivedAgo),
		Extra:          cell(row, cols.Extra),
		Raw:            row,
		RowHash:        RowHash(row),
	}
	if v, ok := ParseNumber(cell(row, cols.Float)); ok {
		item.Float = &v
	}
	if v, ok := ParseInt(cell(row, cols.PaintSeed)); ok {
		item.PaintSeed = &v
	}
	return item, true
}

// NormalizeAll treats the first row as the header and normalizes the rest.
// Rows sharing a market identifier collapse into the last one seen, keeping
// the position of the first.
func NormalizeAll(rows [][]string, cols Columns) (header []string, items []Item) {
	if len(rows) == 0 {
		return nil, nil
	}
	header = rows[0]

	index := make(map[string]int)
	skipped := 0
	for i, row := range rows[1:] {
		item, ok := Normalize(row, cols)
		if !ok {
			skipped++
			continue
		}
		if pos, seen := index[item.MarketName]; seen {
			log.Debug().
				Int("row", i+2).
				Str("market_name", item.MarketName).
				Msg("Duplicate market name in sheet, keeping latest row")
			items[pos] = item
			continue
		}
		index[item.MarketName] = len(items)
		items = append(items, item)
	}

	log.Debug().
		Int("rows", len(rows)-1).
		Int("items", len(items)).
		Int("skipped", skipped).
		Msg("Normalized sheet rows")
	return header, items
}
