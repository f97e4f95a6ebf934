package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/constants"
	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
)

var sqlFlavor = sqlbuilder.PostgreSQL

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Pool is the part of *pgxpool.Pool the store depends on.
type Pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements models.Store on PostgreSQL. Statements run on the open
// transaction when there is one, otherwise directly on the pool.
type Store struct {
	logger logrus.FieldLogger
	pool   Pool
	tx     pgx.Tx
}

var _ models.Store = &Store{}

func NewStore(logger logrus.FieldLogger, pool Pool) *Store {
	return &Store{logger: logger, pool: pool}
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	s.tx = tx
	return nil
}

func (s *Store) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("no transaction in progress")
	}
	tx := s.tx
	s.tx = nil
	return errors.Wrap(tx.Commit(ctx), "failed to commit transaction")
}

// Rollback is a no-op when no transaction is open.
func (s *Store) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Wrap(err, "failed to roll back transaction")
	}
	return nil
}

func createTableSQL(t models.Table) string {
	ctb := sqlbuilder.NewCreateTableBuilder()
	ctb.CreateTable(t.Name).IfNotExists()
	for _, c := range t.Columns {
		def := []string{c.Name, c.Type.SQL()}
		if !c.Nullable {
			def = append(def, "NOT NULL")
		}
		ctb.Define(def...)
	}
	sql, _ := ctb.BuildWithFlavor(sqlFlavor)
	return sql
}

func createHistorySQL() string {
	ctb := sqlbuilder.NewCreateTableBuilder()
	ctb.CreateTable(constants.HistoryTable).IfNotExists()
	ctb.Define("load_id", "UUID", "PRIMARY KEY")
	ctb.Define("quarter", "TEXT", "NOT NULL")
	ctb.Define("load_type", "TEXT", "NOT NULL")
	ctb.Define("start_timestamp", "TIMESTAMPTZ", "NOT NULL")
	ctb.Define("end_timestamp", "TIMESTAMPTZ")
	ctb.Define("status", "TEXT", "NOT NULL")
	ctb.Define("source_checksum", "TEXT")
	ctb.Define("rows_extracted", "BIGINT")
	ctb.Define("rows_loaded", "BIGINT")
	ctb.Define("rows_updated", "BIGINT")
	ctb.Define("rows_deleted", "BIGINT")
	ctb.Define("error_message", "TEXT")
	sql, _ := ctb.BuildWithFlavor(sqlFlavor)
	return sql
}

func dropTableSQL(name string) string {
	sql, _ := sqlbuilder.Buildf("DROP TABLE IF EXISTS %v", sqlbuilder.Raw(pgx.Identifier{name}.Sanitize())).BuildWithFlavor(sqlFlavor)
	return sql
}

func (s *Store) InitializeSchema(ctx context.Context, tables []models.Table, dropExisting bool) error {
	if dropExisting {
		s.logger.Warn("Dropping existing FAERS tables")
		if _, err := s.q().Exec(ctx, dropTableSQL(constants.HistoryTable)); err != nil {
			return errors.Wrapf(err, "failed to drop %s", constants.HistoryTable)
		}
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := s.q().Exec(ctx, dropTableSQL(tables[i].Name)); err != nil {
				return errors.Wrapf(err, "failed to drop %s", tables[i].Name)
			}
		}
	}

	for _, t := range tables {
		if _, err := s.q().Exec(ctx, createTableSQL(t)); err != nil {
			return errors.Wrapf(err, "failed to create %s", t.Name)
		}
	}
	if _, err := s.q().Exec(ctx, createHistorySQL()); err != nil {
		return errors.Wrapf(err, "failed to create %s", constants.HistoryTable)
	}
	s.logger.Infof("Initialized schema for %d tables", len(tables))
	return nil
}

func (s *Store) recordIDsForCases(ctx context.Context, caseIDs []string) ([]string, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("DISTINCT primaryid").From(models.TableDemo).
		Where("caseid = ANY(" + sb.Var(caseIDs) + ")")
	query, args := sb.BuildWithFlavor(sqlFlavor)

	rows, err := s.q().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id *string
		err := row.Scan(&id)
		if id == nil {
			return "", err
		}
		return *id, err
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func deleteSQL(table string, recordIDs []string) (string, []interface{}) {
	db := sqlbuilder.NewDeleteBuilder()
	db.DeleteFrom(table).Where("primaryid = ANY(" + db.Var(recordIDs) + ")")
	return db.BuildWithFlavor(sqlFlavor)
}

// DeleteByCase resolves the cases to every primaryid ever loaded for them and
// removes those rows from all tables, demographics last.
func (s *Store) DeleteByCase(ctx context.Context, caseIDs models.IDSet) (int64, error) {
	if caseIDs.Len() == 0 {
		return 0, nil
	}
	recordIDs, err := s.recordIDsForCases(ctx, caseIDs.Sorted())
	if err != nil {
		return 0, errors.Wrap(err, "failed to resolve case ids")
	}
	if len(recordIDs) == 0 {
		return 0, nil
	}

	var deleted int64
	for _, table := range models.DeleteOrder {
		query, args := deleteSQL(table, recordIDs)
		tag, err := s.q().Exec(ctx, query, args...)
		if err != nil {
			return deleted, errors.Wrapf(err, "failed to delete from %s", table)
		}
		deleted += tag.RowsAffected()
	}
	s.logger.WithFields(logrus.Fields{"cases": caseIDs.Len(), "rows": deleted}).Info("Deleted rows by case")
	return deleted, nil
}

// DeltaMerge is idempotent: existing versions of the cases are removed before
// the final files are loaded.
func (s *Store) DeltaMerge(ctx context.Context, caseIDs models.IDSet, files map[string]models.FinalFile) (models.MergeStats, error) {
	var stats models.MergeStats
	deleted, err := s.DeleteByCase(ctx, caseIDs)
	if err != nil {
		return stats, err
	}
	stats.Deleted = deleted

	for _, table := range models.LoadOrder {
		file, ok := files[table]
		if !ok {
			continue
		}
		n, err := s.BulkLoad(ctx, file)
		if err != nil {
			return stats, err
		}
		stats.Loaded += n
	}
	return stats, nil
}

func (s *Store) RecordRun(ctx context.Context, run models.LoadRun) error {
	query, args := sqlbuilder.Buildf(`INSERT INTO `+constants.HistoryTable+` (load_id, quarter, load_type, start_timestamp,
end_timestamp, status, source_checksum, rows_extracted, rows_loaded, rows_updated, rows_deleted, error_message)
VALUES (%v, %v, %v, %v, %v, %v, %v, %v, %v, %v, %v, %v)
ON CONFLICT (load_id) DO UPDATE SET end_timestamp = EXCLUDED.end_timestamp, status = EXCLUDED.status,
source_checksum = EXCLUDED.source_checksum, rows_extracted = EXCLUDED.rows_extracted,
rows_loaded = EXCLUDED.rows_loaded, rows_updated = EXCLUDED.rows_updated,
rows_deleted = EXCLUDED.rows_deleted, error_message = EXCLUDED.error_message`,
		run.LoadID, run.Period, run.LoadType, run.Start, run.End, run.Status, nullable(run.SourceChecksum),
		run.RowsExtracted, run.RowsLoaded, run.RowsUpdated, run.RowsDeleted, run.ErrorMessage,
	).BuildWithFlavor(sqlFlavor)

	if _, err := s.q().Exec(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to record load %s", run.LoadID)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) LastSuccessfulPeriod(ctx context.Context) (string, bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("quarter").From(constants.HistoryTable).
		Where(sb.Equal("status", constants.LoadSuccess)).
		OrderBy("quarter").Desc().Limit(1)
	query, args := sb.BuildWithFlavor(sqlFlavor)

	var period string
	err := s.q().QueryRow(ctx, query, args...).Scan(&period)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to query load history")
	}
	return period, true, nil
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.LoadRun, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("load_id::text", "quarter", "load_type", "start_timestamp", "end_timestamp", "status",
		"COALESCE(source_checksum, '')", "COALESCE(rows_extracted, 0)", "COALESCE(rows_loaded, 0)",
		"COALESCE(rows_updated, 0)", "COALESCE(rows_deleted, 0)", "error_message").
		From(constants.HistoryTable).
		OrderBy("start_timestamp").Desc().Limit(limit)
	query, args := sb.BuildWithFlavor(sqlFlavor)

	rows, err := s.q().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query load history")
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LoadRun, error) {
		var run models.LoadRun
		var end *time.Time
		err := row.Scan(&run.LoadID, &run.Period, &run.LoadType, &run.Start, &end, &run.Status,
			&run.SourceChecksum, &run.RowsExtracted, &run.RowsLoaded, &run.RowsUpdated, &run.RowsDeleted,
			&run.ErrorMessage)
		run.End = end
		return run, err
	})
	return runs, errors.Wrap(err, "failed to read load history")
}

// ConsistencyCheck fails with a DataQualityError when a case has more than
// one demographic row or the check returns nothing.
func (s *Store) ConsistencyCheck(ctx context.Context) (bool, string, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("COUNT(DISTINCT caseid)", "COUNT(*)").From(models.TableDemo)
	query, args := sb.BuildWithFlavor(sqlFlavor)

	var distinct, total int64
	err := s.q().QueryRow(ctx, query, args...).Scan(&distinct, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		msg := "consistency check returned no result"
		return false, msg, &faerserrors.DataQualityError{Msg: msg}
	}
	if err != nil {
		return false, "", errors.Wrap(err, "failed to run consistency check")
	}
	if distinct != total {
		msg := fmt.Sprintf("demo has duplicate cases: %d distinct caseids across %d rows", distinct, total)
		return false, msg, &faerserrors.DataQualityError{Msg: msg}
	}
	msg := fmt.Sprintf("demo has one row per case across %d rows", total)
	s.logger.Info(msg)
	return true, msg, nil
}
