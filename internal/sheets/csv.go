package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ParseCSV reads every record, trimming each cell. Quoted cells may contain
// commas, newlines and doubled quotes. Rows may have differing widths.
func ParseCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// CSVSource downloads a published sheet in CSV form.
type CSVSource struct {
	url    string
	client *http.Client
}

func NewCSVSource(url string) *CSVSource {
	return &CSVSource{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *CSVSource) Name() string {
	return "csv:" + s.url
}

func (s *CSVSource) Rows(ctx context.Context) ([][]string, error) {
	if s.url == "" {
		return nil, ErrNoSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Source:     s.Name(),
			StatusCode: resp.StatusCode,
			Underlying: fmt.Errorf("sheet request failed: %s", strings.TrimSpace(string(body))),
		}
	}

	rows, err := ParseCSV(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Underlying: err}
	}

	log.Debug().
		Str("url", s.url).
		Int("rows", len(rows)).
		Msg("Fetched published sheet")
	return rows, nil
}
