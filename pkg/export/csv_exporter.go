package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// Dataset is a register-shaped table. Rows and Summary are keyed by header;
// Summary, when set, is written as a closing totals row.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	Summary map[string]string
}

func (d Dataset) record(row map[string]string, into []string) []string {
	for i, h := range d.Headers {
		into[i] = row[h]
	}
	return into
}

// CSVExporter writes registers that open cleanly in spreadsheet tools.
type CSVExporter struct {
	comma rune
}

// NewCSVExporter builds a comma separated exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{comma: ','}
}

// WithSeparator returns a copy that separates fields with r, for locales whose
// spreadsheets expect ';'.
func (e *CSVExporter) WithSeparator(r rune) *CSVExporter {
	return &CSVExporter{comma: r}
}

// Render produces the CSV bytes, prefixed with a UTF-8 BOM. Cells that a
// spreadsheet would evaluate as a formula are quoted with a leading
// apostrophe; subjects and office names come from outside correspondence.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	buf.WriteString("\ufeff")
	writer := csv.NewWriter(buf)
	if e.comma != 0 {
		writer.Comma = e.comma
	}
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	rows := data.Rows
	if len(data.Summary) > 0 {
		rows = append(rows[:len(rows):len(rows)], data.Summary)
	}
	for _, row := range rows {
		for i, cell := range data.record(row, record) {
			record[i] = neutralize(cell)
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func neutralize(cell string) string {
	if cell == "" {
		return cell
	}
	if strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		return "'" + cell
	}
	return cell
}
