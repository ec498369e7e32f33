package mapping

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/record"
)

// Kinds of uploaded CSV.
const (
	UploadCodes    = "codes"
	UploadMappings = "mappings"
	UploadEmpty    = "empty"
)

// ImportedTerm labels uploaded codes that the catalog does not know.
const ImportedTerm = "(imported)"

// ErrUnrecognizedUpload is returned for a CSV with neither code nor mapping
// columns.
var ErrUnrecognizedUpload = errors.New("unrecognized CSV columns")

// Column aliases accepted in a mappings upload, in order of preference.
var (
	namasteColumns = []string{"namaste", "namaste_code"}
	tm2Columns     = []string{"tm2", "tm2_code", "icd11_tm2"}
	biomedColumns  = []string{"biomed", "biomed_code", "icd11_biomed"}
)

// Row is one line of a mappings upload.
type Row struct {
	Namaste string
	TM2     string
	Biomed  string
}

// Prefill returns the row as record builder codes.
func (r Row) Prefill() record.Prefill {
	return record.Prefill{Namaste: r.Namaste, TM2: r.TM2, Biomed: r.Biomed}
}

// Upload is a parsed CSV upload. Exactly one of Codes and Rows is set, per
// Kind.
type Upload struct {
	Kind  string
	Codes []catalog.CodeEntry
	Rows  []Row
}

// ParseUpload reads a codes CSV (code, term, system[, mapped]) or a mappings
// CSV (namaste, tm2, biomed columns under any accepted alias). Mapping columns
// take precedence when a file has both. A file with no data rows is
// UploadEmpty.
func ParseUpload(data []byte) (*Upload, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &Upload{Kind: UploadEmpty}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV rows: %w", err)
	}
	if len(records) == 0 {
		return &Upload{Kind: UploadEmpty}, nil
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := col[name]; !dup {
			col[name] = i
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	pick := func(aliases []string) (string, bool) {
		for _, a := range aliases {
			if _, ok := col[a]; ok {
				return a, true
			}
		}
		return "", false
	}

	nCol, okN := pick(namasteColumns)
	tCol, okT := pick(tm2Columns)
	bCol, okB := pick(biomedColumns)
	if okN && okT && okB {
		up := &Upload{Kind: UploadMappings}
		for _, rec := range records {
			row := Row{Namaste: field(rec, nCol), TM2: field(rec, tCol), Biomed: field(rec, bCol)}
			if row.Namaste == "" && row.TM2 == "" && row.Biomed == "" {
				continue
			}
			up.Rows = append(up.Rows, row)
		}
		return up, nil
	}

	_, hasCode := col["code"]
	_, hasTerm := col["term"]
	_, hasSystem := col["system"]
	if hasCode && hasTerm && hasSystem {
		up := &Upload{Kind: UploadCodes}
		for _, rec := range records {
			up.Codes = append(up.Codes, catalog.CodeEntry{
				Code:   field(rec, "code"),
				Term:   field(rec, "term"),
				System: field(rec, "system"),
			})
		}
		return up, nil
	}
	return nil, ErrUnrecognizedUpload
}

// Pairs expands rows into NAMASTE to TM2 and NAMASTE to BIO mappings with
// score 1. term looks up catalog labels; unknown codes get ImportedTerm.
func Pairs(rows []Row, term func(system, code string) string) []Pair {
	snap := func(system, code string) Snapshot {
		t := term(system, code)
		if t == "" {
			t = ImportedTerm
		}
		return Snapshot{System: system, Code: code, Term: t}
	}
	var out []Pair
	for _, r := range rows {
		if r.Namaste == "" {
			continue
		}
		src := snap(catalog.SystemNamaste, r.Namaste)
		if r.TM2 != "" {
			out = append(out, Pair{FromSystem: catalog.SystemNamaste, Source: src, Dest: snap(catalog.SystemTM2, r.TM2), Score: 1})
		}
		if r.Biomed != "" {
			out = append(out, Pair{FromSystem: catalog.SystemNamaste, Source: src, Dest: snap(catalog.SystemBiomed, r.Biomed), Score: 1})
		}
	}
	return out
}
