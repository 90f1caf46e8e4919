package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// utf8BOM is prepended to spreadsheet exports so Excel decodes the
// accented names (Pérez, Muñoz) as UTF-8 instead of Latin-1.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Dataset defines tabular export content. Rows are keyed by header, a
// missing key renders as an empty cell.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct {
	// ExcelBOM prepends a UTF-8 byte order mark to the output.
	ExcelBOM bool
}

// NewCSVExporter builds a CSV exporter with Excel compatibility on.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{ExcelBOM: true}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}

	buf := &bytes.Buffer{}
	if e.ExcelBOM {
		buf.Write(utf8BOM)
	}

	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	for _, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = row[header]
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
