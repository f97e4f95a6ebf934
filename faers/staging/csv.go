package staging

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const csvDelimiter = '$'

type csvWriter struct {
	file   *os.File
	buf    *bufio.Writer
	writer *csv.Writer
	count  int64
}

func newCSVWriter(path string, columns []string) (*csvWriter, error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s", path)
	}
	buf := bufio.NewWriter(f)
	w := csv.NewWriter(buf)
	w.Comma = csvDelimiter
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not write header to %s", path)
	}
	return &csvWriter{file: f, buf: buf, writer: w}, nil
}

func (w *csvWriter) Write(values []string) error {
	if err := w.writer.Write(values); err != nil {
		return errors.Wrapf(err, "could not write row to %s", w.file.Name())
	}
	w.count++
	return nil
}

func (w *csvWriter) Count() int64 { return w.count }

func (w *csvWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "could not flush %s", w.file.Name())
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "could not flush %s", w.file.Name())
	}
	return w.file.Close()
}

type csvReader struct {
	file    *os.File
	reader  *csv.Reader
	columns []string
	row     []string
	err     error
}

// openCSVReader opens a staged CSV file. A zero byte file yields no columns and no rows.
func openCSVReader(path string) (*csvReader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = csvDelimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return &csvReader{file: f, reader: r}, nil
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not read header of %s", path)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return &csvReader{file: f, reader: r, columns: columns}, nil
}

func (r *csvReader) Columns() []string { return r.columns }

func (r *csvReader) Next() bool {
	if r.err != nil || r.columns == nil {
		return false
	}
	rec, err := r.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		r.err = errors.Wrapf(err, "could not read %s", r.file.Name())
		return false
	}
	if r.row == nil {
		r.row = make([]string, len(r.columns))
	}
	for i := range r.row {
		if i < len(rec) {
			r.row[i] = rec[i]
		} else {
			r.row[i] = ""
		}
	}
	return true
}

func (r *csvReader) Row() []string { return r.row }

func (r *csvReader) Err() error { return r.err }

func (r *csvReader) Close() error { return r.file.Close() }
