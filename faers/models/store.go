package models

import "context"

// Store is the destination database. Implementations run every statement on
// the open transaction when there is one, otherwise directly on the connection.
type Store interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// InitializeSchema creates the data tables and the load history table.
	InitializeSchema(ctx context.Context, tables []Table, dropExisting bool) error

	// BulkLoad copies a final file into its table and returns the rows copied.
	BulkLoad(ctx context.Context, file FinalFile) (int64, error)

	// DeleteByCase removes every row, in every table, of the given cases.
	DeleteByCase(ctx context.Context, caseIDs IDSet) (int64, error)

	// DeltaMerge replaces the given cases with the contents of the final files.
	DeltaMerge(ctx context.Context, caseIDs IDSet, files map[string]FinalFile) (MergeStats, error)

	RecordRun(ctx context.Context, run LoadRun) error
	LastSuccessfulPeriod(ctx context.Context) (string, bool, error)
	RecentRuns(ctx context.Context, limit int) ([]LoadRun, error)

	// ConsistencyCheck verifies each case has exactly one demographic row.
	ConsistencyCheck(ctx context.Context) (bool, string, error)
}
