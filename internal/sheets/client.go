package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type Client struct {
	service *sheets.Service
}

func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	service, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{
		service: service,
	}, nil
}

func (c *Client) ReadSheet(ctx context.Context, spreadsheetID, range_ string) ([][]interface{}, error) {
	resp, err := c.service.Spreadsheets.Values.Get(spreadsheetID, range_).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	return resp.Values, nil
}

// APISource reads rows through the Sheets API instead of a published CSV.
type APISource struct {
	client        *Client
	spreadsheetID string
	readRange     string
}

func NewAPISource(client *Client, spreadsheetID, sheetRange string) *APISource {
	// a bare sheet name or "Sheet!A1" reads the whole used area
	sheetName := strings.Split(sheetRange, "!")[0]
	return &APISource{
		client:        client,
		spreadsheetID: spreadsheetID,
		readRange:     sheetName + "!A1:Z",
	}
}

func (s *APISource) Name() string {
	return "sheets-api:" + s.spreadsheetID
}

func (s *APISource) Rows(ctx context.Context) ([][]string, error) {
	values, err := s.client.ReadSheet(ctx, s.spreadsheetID, s.readRange)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Underlying: err}
	}

	rows := stringifyRows(values)
	log.Debug().
		Str("spreadsheet_id", s.spreadsheetID).
		Str("range", s.readRange).
		Int("rows", len(rows)).
		Msg("Read sheet through API")
	return rows, nil
}

// stringifyRows converts API cell values into trimmed strings.
func stringifyRows(values [][]interface{}) [][]string {
	rows := make([][]string, 0, len(values))
	for _, row := range values {
		cells := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				cells[i] = strings.TrimSpace(fmt.Sprintf("%v", v))
			}
		}
		rows = append(rows, cells)
	}
	return rows
}
