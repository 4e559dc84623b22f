package export

import "fmt"

// Column describes one exported field.
type Column struct {
	Label string
	// Width is a relative weight used by the PDF renderer; zero means 1.
	Width float64
}

// Table is the renderer-agnostic export payload.
type Table struct {
	Title   string
	Columns []Column
	Rows    [][]string
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("export requires at least one column")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

func (t Table) labels() []string {
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		out[i] = col.Label
	}
	return out
}
