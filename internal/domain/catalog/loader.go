package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// LoadResult is the outcome of a catalog load. Warning is a short banner for
// the UI when every dataset source failed and the catalog is empty.
type LoadResult struct {
	Catalog  *Catalog  `json:"-"`
	Source   string    `json:"source"`
	Warning  string    `json:"warning,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Loader fetches the static dataset. Each location is an http(s) URL or a local
// file path; empty locations are skipped.
type Loader struct {
	PrimaryURL string // structured JSON: {"codes":[...]} or [...]
	CSVURL     string // delimited fallback with header code,term,system
	XLSXURL    string // spreadsheet fallback, first sheet, same header

	http   *resty.Client
	logger zerolog.Logger
}

// NewLoader creates a loader for the given dataset locations.
func NewLoader(primary, csvURL, xlsxURL string, logger zerolog.Logger) *Loader {
	return &Loader{
		PrimaryURL: primary,
		CSVURL:     csvURL,
		XLSXURL:    xlsxURL,
		http: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("Cache-Control", "no-store"),
		logger: logger.With().Str("component", "catalog-loader").Logger(),
	}
}

// Load tries the primary dataset, then the CSV fallback, then the spreadsheet
// fallback. It never returns an error: when all sources fail the result holds
// an empty catalog and a warning.
func (l *Loader) Load(ctx context.Context) LoadResult {
	type source struct {
		name  string
		loc   string
		parse func([]byte) ([]CodeEntry, error)
	}
	sources := []source{
		{"json", l.PrimaryURL, parseJSONDataset},
		{"csv", l.CSVURL, parseCSVDataset},
		{"xlsx", l.XLSXURL, parseXLSXDataset},
	}

	var lastErr error
	for _, s := range sources {
		if s.loc == "" {
			continue
		}
		data, err := l.fetch(ctx, s.loc)
		if err == nil {
			var records []CodeEntry
			records, err = s.parse(data)
			if err == nil {
				cat := New(records)
				l.logger.Info().
					Str("source", s.loc).
					Int("entries", cat.Len()).
					Int("rejected", cat.Rejected()).
					Msg("catalog loaded")
				return LoadResult{Catalog: cat, Source: s.loc, LoadedAt: time.Now().UTC()}
			}
		}
		l.logger.Warn().Err(err).Str("source", s.loc).Str("format", s.name).Msg("dataset source failed")
		lastErr = err
	}

	msg := "no dataset configured"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return LoadResult{
		Catalog:  Empty(),
		Warning:  "Failed to load code datasets: " + msg,
		LoadedAt: time.Now().UTC(),
	}
}

func (l *Loader) fetch(ctx context.Context, loc string) ([]byte, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		resp, err := l.http.R().SetContext(ctx).Get(loc)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", loc, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch %s: status %d", loc, resp.StatusCode())
		}
		return resp.Body(), nil
	}
	data, err := os.ReadFile(loc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	return data, nil
}

func parseJSONDataset(data []byte) ([]CodeEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []CodeEntry
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode dataset array: %w", err)
		}
		return list, nil
	}
	var doc struct {
		Codes []CodeEntry `json:"codes"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if doc.Codes == nil {
		return nil, fmt.Errorf("dataset has no codes array")
	}
	return doc.Codes, nil
}

// rowsToEntries maps a header row plus data rows onto entries by column name.
func rowsToEntries(rows [][]string) ([]CodeEntry, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	col := map[string]int{}
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"code", "system"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("dataset header missing %q column", required)
		}
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]CodeEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, CodeEntry{
			Code:   cell(row, "code"),
			Term:   cell(row, "term"),
			System: cell(row, "system"),
		})
	}
	return out, nil
}

func parseCSVDataset(data []byte) ([]CodeEntry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv dataset: %w", err)
		}
		rows = append(rows, rec)
	}
	return rowsToEntries(rows)
}

func parseXLSXDataset(data []byte) ([]CodeEntry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx dataset: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("xlsx dataset has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rowsToEntries(rows)
}
