package export

import "fmt"

// Table is an ordered, pre-formatted tabular document.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

func (t Table) validate(format string) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("%s requires at least one column", format)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%s row %d has %d cells, want %d", format, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Renderer turns a table into document bytes.
type Renderer interface {
	Render(table Table) ([]byte, error)
	ContentType() string
	Extension() string
}
