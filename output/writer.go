package output

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Table is a header row plus data rows, written as is by every Writer.
type Table struct {
	Headers []string
	Rows    [][]string
}

type Writer interface {
	Write(path string, table Table) error
}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatFromPath derives the output format from the file extension.
func FormatFromPath(path string) string {
	return normalizeFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
