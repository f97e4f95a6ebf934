package postgres

import (
	"context"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/models"
	"github.com/CMSgov/faers-app/faers/staging"
	"github.com/CMSgov/faers-app/faers/utils"
)

// fileSource feeds the rows of a staged file to CopyFrom, converting each
// value to its column type. Empty values and unparseable numbers become NULL.
type fileSource struct {
	reader  staging.RowReader
	index   []int
	types   []models.ColumnType
	values  []any
	invalid int64

	logger      logrus.FieldLogger
	rows        int64
	reportEvery int64
}

var _ pgx.CopyFromSource = &fileSource{}

func (f *fileSource) Next() bool {
	if !f.reader.Next() {
		return false
	}
	f.rows++
	if f.reportEvery > 0 && f.rows%f.reportEvery == 0 {
		f.logger.Infof("Copied %d rows", f.rows)
	}
	row := f.reader.Row()
	for i, idx := range f.index {
		f.values[i] = f.convert(row[idx], f.types[i])
	}
	return true
}

func (f *fileSource) convert(v string, t models.ColumnType) any {
	if v == "" {
		return nil
	}
	switch t {
	case models.Float:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			f.invalid++
			return nil
		}
		return n
	case models.Integer:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f.invalid++
			return nil
		}
		return n
	default:
		return v
	}
}

func (f *fileSource) Values() ([]any, error) {
	return f.values, nil
}

func (f *fileSource) Err() error {
	return f.reader.Err()
}

// BulkLoad copies a final file into its table with COPY. Columns the table
// does not declare are skipped. A missing or empty file loads nothing.
func (s *Store) BulkLoad(ctx context.Context, file models.FinalFile) (int64, error) {
	if file.Path == "" {
		return 0, nil
	}
	if _, err := os.Stat(file.Path); os.IsNotExist(err) {
		s.logger.Warnf("Final file %s does not exist, nothing to load into %s", file.Path, file.Table)
		return 0, nil
	}
	table, ok := models.TableByName(file.Table)
	if !ok {
		return 0, errors.Errorf("unknown table %s", file.Table)
	}

	reader, err := staging.OpenReader(file.Path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	src := &fileSource{
		reader:      reader,
		logger:      s.logger.WithField("table", table.Name),
		reportEvery: int64(utils.GetEnvInt("FAERS_COPY_REPORT_INTERVAL", 1000000)),
	}
	var columns []string
	for i, c := range reader.Columns() {
		col, ok := table.Column(c)
		if !ok {
			s.logger.Debugf("Column %s is not part of %s, skipping", c, table.Name)
			continue
		}
		columns = append(columns, c)
		src.index = append(src.index, i)
		src.types = append(src.types, col.Type)
	}
	if len(columns) == 0 {
		return 0, nil
	}
	src.values = make([]any, len(columns))

	n, err := s.q().CopyFrom(ctx, pgx.Identifier{table.Name}, columns, src)
	if err != nil {
		err = errors.Wrapf(err, "failed to copy %s into %s", file.Path, table.Name)
		s.logger.Error(err)
		return 0, err
	}
	fields := logrus.Fields{"table": table.Name, "rows": n}
	if src.invalid > 0 {
		fields["invalid_numbers"] = src.invalid
	}
	s.logger.WithFields(fields).Info("Loaded table")
	return n, nil
}
