package staging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

const (
	flushInterval = 100_000
	// Parquet groups store fields by name, so the staged column order is kept
	// in the file metadata.
	columnOrderKey = "faers.columns"
)

type parquetWriter struct {
	file   *os.File
	writer *parquet.Writer
	leaf   []int
	count  int64
}

func newParquetWriter(path string, columns []string) (*parquetWriter, error) {
	if len(columns) == 0 {
		return nil, errors.Errorf("cannot stage %s without columns", path)
	}
	group := parquet.Group{}
	for _, c := range columns {
		group[c] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("faers", group)

	leafOf := make(map[string]int, len(columns))
	for i, p := range schema.Columns() {
		leafOf[p[0]] = i
	}
	leaf := make([]int, len(columns))
	for i, c := range columns {
		leaf[i] = leafOf[c]
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s", path)
	}
	w := parquet.NewWriter(f, schema,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(columnOrderKey, strings.Join(columns, ",")),
	)
	return &parquetWriter{file: f, writer: w, leaf: leaf}, nil
}

func (w *parquetWriter) Write(values []string) error {
	row := make(parquet.Row, len(w.leaf))
	for i, leaf := range w.leaf {
		var v string
		if i < len(values) {
			v = values[i]
		}
		if v == "" {
			row[leaf] = parquet.NullValue().Level(0, 0, leaf)
		} else {
			row[leaf] = parquet.ValueOf(v).Level(0, 1, leaf)
		}
	}
	if _, err := w.writer.WriteRows([]parquet.Row{row}); err != nil {
		return errors.Wrapf(err, "could not write row to %s", w.file.Name())
	}
	w.count++
	if w.count%flushInterval == 0 {
		if err := w.writer.Flush(); err != nil {
			return errors.Wrapf(err, "could not flush %s", w.file.Name())
		}
	}
	return nil
}

func (w *parquetWriter) Count() int64 { return w.count }

func (w *parquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "could not close parquet writer for %s", w.file.Name())
	}
	return w.file.Close()
}

type parquetReader struct {
	file      *os.File
	groups    []parquet.RowGroup
	nextGroup int
	rows      parquet.Rows
	buf       []parquet.Row
	columns   []string
	position  []int
	row       []string
	err       error
}

func openParquetReader(path string) (*parquetReader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not stat %s", path)
	}
	if info.Size() == 0 {
		return &parquetReader{file: f}, nil
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not open parquet file %s", path)
	}

	leaves := pf.Schema().Columns()
	columns := make([]string, len(leaves))
	for i, p := range leaves {
		columns[i] = p[len(p)-1]
	}
	if order, ok := pf.Lookup(columnOrderKey); ok && len(strings.Split(order, ",")) == len(columns) {
		columns = strings.Split(order, ",")
	}
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	position := make([]int, len(leaves))
	for i, p := range leaves {
		position[i] = pos[p[len(p)-1]]
	}

	return &parquetReader{
		file:     f,
		groups:   pf.RowGroups(),
		buf:      make([]parquet.Row, 1),
		columns:  columns,
		position: position,
		row:      make([]string, len(columns)),
	}, nil
}

func (r *parquetReader) Columns() []string { return r.columns }

func (r *parquetReader) Next() bool {
	if r.err != nil {
		return false
	}
	for {
		if r.rows == nil {
			if r.nextGroup >= len(r.groups) {
				return false
			}
			r.rows = r.groups[r.nextGroup].Rows()
			r.nextGroup++
		}

		n, err := r.rows.ReadRows(r.buf)
		if n > 0 {
			r.load(r.buf[0])
		}
		if err != nil && err != io.EOF {
			r.err = errors.Wrapf(err, "could not read %s", r.file.Name())
			return false
		}
		if err == io.EOF || n == 0 {
			r.rows.Close()
			r.rows = nil
		}
		if n > 0 {
			return true
		}
	}
}

func (r *parquetReader) load(row parquet.Row) {
	for i := range r.row {
		r.row[i] = ""
	}
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(r.position) || v.IsNull() {
			continue
		}
		r.row[r.position[col]] = string(v.ByteArray())
	}
}

func (r *parquetReader) Row() []string { return r.row }

func (r *parquetReader) Err() error { return r.err }

func (r *parquetReader) Close() error {
	if r.rows != nil {
		r.rows.Close()
	}
	return r.file.Close()
}
