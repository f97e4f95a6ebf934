package models

import (
	"sort"
	"strings"
	"time"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
)

// Record is one row of a FAERS table keyed by lower case column name.
// Missing keys and empty values are both treated as NULL.
type Record map[string]string

// Report is a single case submission with its rows for every table.
type Report struct {
	RecordID string
	CaseID   string
	Tables   map[string][]Record
}

func NewReport(recordID, caseID string) *Report {
	return &Report{RecordID: recordID, CaseID: caseID, Tables: make(map[string][]Record)}
}

// Add appends a row to the given table, filling in the report identifiers
// when the row does not carry them.
func (r *Report) Add(table string, rec Record) {
	if rec[RecordIDColumn] == "" {
		rec[RecordIDColumn] = r.RecordID
	}
	if rec[CaseIDColumn] == "" {
		rec[CaseIDColumn] = r.CaseID
	}
	r.Tables[table] = append(r.Tables[table], rec)
}

// IDSet is a set of primaryid or caseid values.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type StagingFormat string

const (
	FormatCSV     StagingFormat = "csv"
	FormatParquet StagingFormat = "parquet"
)

func ParseStagingFormat(s string) (StagingFormat, error) {
	switch f := StagingFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", &faerserrors.UnsupportedFormatError{Format: s}
	}
}

// Ext is the file extension, without the dot, used for staged files.
func (f StagingFormat) Ext() string {
	return string(f)
}

// LoadRun is one row of the load history table.
type LoadRun struct {
	LoadID         string
	Period         string
	LoadType       string
	Start          time.Time
	End            *time.Time
	Status         string
	SourceChecksum string
	RowsExtracted  int64
	RowsLoaded     int64
	RowsUpdated    int64
	RowsDeleted    int64
	ErrorMessage   *string
}

// FinalFile is the filtered, cleaned output of a table for one period.
type FinalFile struct {
	Table string
	Path  string
	Rows  int64
}

// MergeStats reports what a delta merge changed.
type MergeStats struct {
	Deleted int64
	Loaded  int64
}
