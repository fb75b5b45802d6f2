package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vyrodovalexey/mongo-items-api/internal/validator"
)

const utf8BOM = "\uFEFF"

// row is one data record mapped to an item payload.
type row struct {
	line    int
	payload map[string]any
	blank   bool
	// parseErr is set when the record could not be parsed.
	parseErr error
}

// rowReader streams the data rows of a CSV source.
type rowReader struct {
	r       *csv.Reader
	columns map[string]int
	// held is a row returned by peek and not yet consumed by next.
	held *row
}

// newRowReader reads and normalizes the header. The header must contain a
// name column.
func newRowReader(src io.Reader) (*rowReader, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, cell := range header {
		name := normalizeColumn(cell)
		if name == "" {
			continue
		}
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}

	if _, ok := columns[validator.FieldName]; !ok {
		return nil, fmt.Errorf("header has no %q column", validator.FieldName)
	}

	return &rowReader{r: r, columns: columns}, nil
}

// next returns the next data row, or io.EOF when the source is exhausted.
// Parse errors on a single record are reported on the row, not returned.
func (rr *rowReader) next() (row, error) {
	if rr.held != nil {
		r := *rr.held
		rr.held = nil
		return r, nil
	}

	record, err := rr.r.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return row{line: pe.StartLine, parseErr: pe.Err}, nil
		}
		return row{}, err
	}

	line, _ := rr.r.FieldPos(0)

	blank := true
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			blank = false
			break
		}
	}
	if blank {
		return row{line: line, blank: true}, nil
	}

	payload := make(map[string]any, 2)
	for _, field := range []string{validator.FieldName, validator.FieldDescription} {
		idx, ok := rr.columns[field]
		if !ok || idx >= len(record) {
			continue
		}
		payload[field] = record[idx]
	}

	return row{line: line, payload: payload}, nil
}

// peek skips leading blank records and returns the first data row without
// consuming it. It returns io.EOF when the source has no data rows.
func (rr *rowReader) peek() (row, error) {
	for {
		r, err := rr.next()
		if err != nil {
			return row{}, err
		}
		if r.blank {
			continue
		}
		rr.held = &r
		return r, nil
	}
}

// normalizeColumn trims, lower-cases and snake-cases a header cell.
func normalizeColumn(cell string) string {
	cell = strings.TrimPrefix(cell, utf8BOM)
	cell = strings.ToLower(strings.TrimSpace(cell))
	return strings.ReplaceAll(cell, " ", "_")
}
