package sheets

import (
	"context"
	"errors"
	"fmt"

	"skin_sheet/internal/config"
	"skin_sheet/internal/retry"

	"github.com/rs/zerolog/log"
)

// ErrNoSource means neither a CSV URL nor a spreadsheet id was configured.
var ErrNoSource = errors.New("no sheet source configured: set SHEET_CSV_URL or SPREADSHEET_ID")

// FetchError is a failure to reach the sheet or a non-success response.
type FetchError struct {
	Source     string
	StatusCode int
	Underlying error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.Source, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Underlying)
}

func (e *FetchError) Unwrap() error {
	return e.Underlying
}

// retryable leaves 4xx responses alone; those will not fix themselves.
func (e *FetchError) retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Source yields the raw rows of the sheet, header first.
type Source interface {
	Name() string
	Rows(ctx context.Context) ([][]string, error)
}

type SourceConfig struct {
	CSVURL          string
	SpreadsheetID   string
	SheetRange      string
	CredentialsFile string
}

// NewSource picks the published CSV when configured, otherwise the Sheets API.
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	if cfg.CSVURL != "" {
		log.Debug().Str("url", cfg.CSVURL).Msg("Using published CSV sheet source")
		return NewCSVSource(cfg.CSVURL), nil
	}
	if cfg.SpreadsheetID == "" {
		return nil, ErrNoSource
	}

	client, err := NewClient(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("spreadsheet_id", cfg.SpreadsheetID).Msg("Using Sheets API source")
	return NewAPISource(client, cfg.SpreadsheetID, cfg.SheetRange), nil
}

// ReadRows reads a source with the sheet retry preset.
func ReadRows(ctx context.Context, src Source) ([][]string, error) {
	policy := config.DefaultResilienceConfig.SheetRead
	policy.Retryable = func(err error) bool {
		var fetchErr *FetchError
		return errors.As(err, &fetchErr) && fetchErr.retryable()
	}
	return ReadRowsWithPolicy(ctx, src, policy)
}

func ReadRowsWithPolicy(ctx context.Context, src Source, policy retry.Config) ([][]string, error) {
	return retry.WithRetry(ctx, policy, src.Rows)
}
