package staging

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/models"
)

// ReportSource is a single pass stream of decoded reports.
type ReportSource interface {
	Next() bool
	Report() *models.Report
	Err() error
}

// Result lists the chunk files written per table and the rows staged per table.
// Tables that received no rows are absent.
type Result struct {
	Chunks map[string][]string
	Rows   map[string]int64
}

type Stager struct {
	logger    logrus.FieldLogger
	dir       string
	format    models.StagingFormat
	chunkSize int
	tables    []models.Table
}

func NewStager(logger logrus.FieldLogger, dir string, format models.StagingFormat, chunkSize int) *Stager {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Stager{
		logger:    logger,
		dir:       dir,
		format:    format,
		chunkSize: chunkSize,
		tables:    models.Tables(),
	}
}

type tableBuffer struct {
	table  models.Table
	rows   []models.Record
	chunks int
}

// Stage drains reports into chunk files of at most chunkSize rows per table.
// At most one chunk per table is held in memory.
func (s *Stager) Stage(reports ReportSource) (*Result, error) {
	result := &Result{Chunks: make(map[string][]string), Rows: make(map[string]int64)}

	buffers := make(map[string]*tableBuffer, len(s.tables))
	for _, t := range s.tables {
		buffers[t.Name] = &tableBuffer{table: t}
	}

	for reports.Next() {
		report := reports.Report()
		for name, recs := range report.Tables {
			buf, ok := buffers[name]
			if !ok {
				s.logger.Debugf("Ignoring rows for unknown table %s", name)
				continue
			}
			for _, rec := range recs {
				buf.rows = append(buf.rows, rec)
				if len(buf.rows) >= s.chunkSize {
					if err := s.flush(buf, result); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := reports.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to decode reports")
	}

	for _, t := range s.tables {
		if err := s.flush(buffers[t.Name], result); err != nil {
			return nil, err
		}
	}

	for _, t := range s.tables {
		if n := result.Rows[t.Name]; n > 0 {
			s.logger.WithFields(logrus.Fields{"table": t.Name, "rows": n, "chunks": len(result.Chunks[t.Name])}).
				Info("Staged table")
		}
	}
	return result, nil
}

func (s *Stager) flush(buf *tableBuffer, result *Result) error {
	if len(buf.rows) == 0 {
		return nil
	}
	buf.chunks++
	path := filepath.Join(s.dir, ChunkName(buf.table.Name, buf.chunks, s.format))
	columns := chunkColumns(buf.table, buf.rows)

	w, err := NewWriter(path, columns, s.format)
	if err != nil {
		return err
	}
	values := make([]string, len(columns))
	for _, rec := range buf.rows {
		for i, c := range columns {
			values[i] = rec[c]
		}
		if err := w.Write(values); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	result.Chunks[buf.table.Name] = append(result.Chunks[buf.table.Name], path)
	result.Rows[buf.table.Name] += int64(len(buf.rows))
	buf.rows = buf.rows[:0]
	return nil
}

// chunkColumns is the table's declared columns followed by any extra columns
// found in the rows, sorted by name.
func chunkColumns(table models.Table, rows []models.Record) []string {
	columns := table.ColumnNames()
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var extra []string
	for _, rec := range rows {
		for c := range rec {
			if !known[c] {
				known[c] = true
				extra = append(extra, c)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
