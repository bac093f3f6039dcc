// Package csvfile reads inventory uploads and writes the two batch artifacts:
// the validation-error file and the re-submittable failed-rows file.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"cardops/internal/core"
)

// Columns is the input schema. notes is optional; the rest are required.
var Columns = []string{"card_name", "set_code", "card_number", "condition", "quantity", "unit_cost", "source", "notes"}

const errorReasonColumn = "error_reason"

var ErrMissingColumn = errors.New("missing required column")

// Header is the normalized header row of an upload, in file order.
type Header []string

// Index returns the position of column name, or -1.
func (h Header) Index(name string) int {
	for i, c := range h {
		if c == name {
			return i
		}
	}
	return -1
}

func normalizeColumn(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// ReadRecords parses an upload. Every data row becomes one RawRecord whose Line
// is its 1-based row number, not counting the header, and whose Cells are the
// row exactly as read. Blank lines are skipped.
//
// A stray quote inside an unquoted field (12" binder) is kept as a literal
// quote. Any other row the CSV parser refuses becomes a record carrying its raw
// text and parse error, which validation rejects; reading carries on with the
// next row.
func ReadRecords(r io.Reader) ([]core.RawRecord, Header, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	lines := strings.Split(string(data), "\n")

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("empty file: %w", ErrMissingColumn)
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	header := make(Header, len(first))
	for i, c := range first {
		header[i] = normalizeColumn(c)
	}
	var missing []string
	for _, c := range Columns {
		if c != "notes" && header.Index(c) < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, header, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	cell := func(row []string, name string) string {
		i := header.Index(name)
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []core.RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line := len(records) + 1
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, header, fmt.Errorf("failed to read row %d: %w", line, err)
			}
			text := sourceText(lines, pe.StartLine, pe.Line)
			if row, err = lenientRow(text); err != nil {
				records = append(records, core.RawRecord{Line: line, Text: text, ParseError: pe.Error()})
				continue
			}
		}
		records = append(records, core.RawRecord{
			Line:       line,
			Cells:      row,
			CardName:   cell(row, "card_name"),
			SetCode:    cell(row, "set_code"),
			CardNumber: cell(row, "card_number"),
			Condition:  cell(row, "condition"),
			Quantity:   cell(row, "quantity"),
			UnitCost:   cell(row, "unit_cost"),
			Source:     cell(row, "source"),
			Notes:      cell(row, "notes"),
		})
	}
	return records, header, nil
}

// sourceText returns file lines from..to (1-based, inclusive) without their
// line endings.
func sourceText(lines []string, from, to int) string {
	if from < 1 {
		from = 1
	}
	if to > len(lines) {
		to = len(lines)
	}
	if from > to {
		return ""
	}
	out := make([]string, 0, to-from+1)
	for _, l := range lines[from-1 : to] {
		out = append(out, strings.TrimSuffix(l, "\r"))
	}
	return strings.Join(out, "\n")
}

// lenientRow reparses a one-line record accepting stray quotes, the way
// spreadsheet exports write them. A record spanning several lines comes from a
// quoted field that never closed and is not guessed at.
func lenientRow(text string) ([]string, error) {
	if strings.Contains(text, "\n") {
		return nil, errors.New("unterminated quoted field")
	}
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.Read()
}

// cells returns the record as it should be written back: the cells exactly as
// read, the raw text of a row that could not be parsed, or, for records that
// did not come from a file, the fields in header order.
func cells(header Header, raw core.RawRecord) []string {
	if raw.Cells != nil {
		return append([]string(nil), raw.Cells...)
	}
	if raw.ParseError != "" {
		return []string{raw.Text}
	}
	byName := map[string]string{
		"card_name":   raw.CardName,
		"set_code":    raw.SetCode,
		"card_number": raw.CardNumber,
		"condition":   raw.Condition,
		"quantity":    raw.Quantity,
		"unit_cost":   raw.UnitCost,
		"source":      raw.Source,
		"notes":       raw.Notes,
	}
	out := make([]string, len(header))
	for i, c := range header {
		out[i] = byName[c]
	}
	return out
}

// WriteValidationErrors writes one row per record rejected by validation: the
// original cells followed by an error_reason column. It writes nothing when
// there are no such records and reports how many rows it wrote.
func WriteValidationErrors(w io.Writer, header Header, report *core.BatchReport) (int, error) {
	rows := report.ValidationErrors()
	if len(rows) == 0 {
		return 0, nil
	}
	if len(header) == 0 {
		header = Columns
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, header...), errorReasonColumn)); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	for _, o := range rows {
		row := cells(header, o.Raw)
		for len(row) < len(header) {
			row = append(row, "")
		}
		if err := cw.Write(append(row, csvSafe(o.Reason))); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", o.Line, err)
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}

// WriteFailedRows writes the valid records that did not reach the ledger, in
// the input schema and unchanged, so the file can be submitted again once the
// cause is fixed.
func WriteFailedRows(w io.Writer, header Header, report *core.BatchReport) (int, error) {
	rows := report.FailedRows()
	if len(rows) == 0 {
		return 0, nil
	}
	if len(header) == 0 {
		header = Columns
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	for _, o := range rows {
		if err := cw.Write(cells(header, o.Raw)); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", o.Line, err)
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}

// csvSafe prevents CSV formula injection by prefixing cells that begin with a
// formula-triggering character with a single quote.
func csvSafe(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
