package staging

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
)

// Writer appends rows, in column order, to a single staged file.
type Writer interface {
	Write(values []string) error
	Count() int64
	Close() error
}

// RowReader streams rows out of a single staged file. Values are returned in
// the order given by Columns; NULL is returned as the empty string.
type RowReader interface {
	Columns() []string
	Next() bool
	Row() []string
	Err() error
	Close() error
}

// NewWriter creates path and writes the header (or schema) for columns.
func NewWriter(path string, columns []string, format models.StagingFormat) (Writer, error) {
	switch format {
	case models.FormatCSV:
		return newCSVWriter(path, columns)
	case models.FormatParquet:
		return newParquetWriter(path, columns)
	default:
		return nil, &faerserrors.UnsupportedFormatError{Format: string(format)}
	}
}

// OpenReader picks the reader from the file extension.
func OpenReader(path string) (RowReader, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case models.FormatCSV.Ext():
		return openCSVReader(path)
	case models.FormatParquet.Ext():
		return openParquetReader(path)
	default:
		return nil, errors.Wrapf(&faerserrors.UnsupportedFormatError{Format: filepath.Ext(path)}, "cannot read %s", path)
	}
}

// ChunkName is the file name of the n-th chunk of a table.
func ChunkName(table string, n int, format models.StagingFormat) string {
	return table + "_chunk_" + strconv.Itoa(n) + "." + format.Ext()
}

// FinalName is the file name of a table's filtered output.
func FinalName(table string, format models.StagingFormat) string {
	return table + "_final." + format.Ext()
}

// IndexOf returns the position of each wanted column in columns, and the
// wanted columns that are absent.
func IndexOf(columns []string, wanted ...string) (map[string]int, []string) {
	idx := make(map[string]int, len(wanted))
	var missing []string
	for _, w := range wanted {
		found := false
		for i, c := range columns {
			if c == w {
				idx[w] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, w)
		}
	}
	return idx, missing
}
