package util

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVQuoteField applies the pipeline's quoting rule: a field is
// double-quote-wrapped when it contains a comma, a double quote, a newline,
// or leading/trailing whitespace. Embedded quotes are doubled.
func CSVQuoteField(field string) string {
	needsQuote := strings.ContainsAny(field, ",\"\n\r") ||
		strings.TrimSpace(field) != field
	if !needsQuote {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// CSVFormatRow renders one CSV row, without trailing newline
func CSVFormatRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = CSVQuoteField(f)
	}
	return strings.Join(quoted, ",")
}

// CSVAppendRow writes one row to w followed by a newline
func CSVAppendRow(w io.Writer, fields []string) error {
	_, err := fmt.Fprintln(w, CSVFormatRow(fields))
	return err
}

// CSVReadAll reads a whole CSV file, returning header and rows.
// Every row must have exactly the header's column count.
func CSVReadAll(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	header = records[0]
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, nil, fmt.Errorf("%s: row %d has %d columns, header has %d",
				path, i+2, len(rec), len(header))
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// CSVHeaderEqual compares a header against the expected columns
func CSVHeaderEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
