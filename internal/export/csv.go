package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"surveysync/internal/dataset"
)

// WriteCSV writes t as delimited text: a header row (unless opts.NoHeader)
// followed by one line per row. It returns the number of data rows written.
func WriteCSV(w io.Writer, t *dataset.Table, opts Options) (int, error) {
	cw := csv.NewWriter(w)
	cw.Comma = opts.delimiter()

	if t == nil {
		t = &dataset.Table{}
	}
	if !opts.NoHeader && len(t.Columns) > 0 {
		if err := cw.Write(t.Columns); err != nil {
			return 0, fmt.Errorf("export: header: %w", err)
		}
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return i, fmt.Errorf("export: row %d has %d values for %d columns", i+1, len(row), len(t.Columns))
		}
		for j, v := range row {
			record[j] = dataset.Format(v, opts.NullText)
		}
		if err := cw.Write(record); err != nil {
			return i, fmt.Errorf("export: row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(t.Rows), fmt.Errorf("export: flush: %w", err)
	}
	return len(t.Rows), nil
}
