package processing

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
	"github.com/CMSgov/faers-app/faers/staging"
)

// Project keeps the rows of every staged table whose primaryid survived
// deduplication, cleans them, and writes one final file per table into outDir.
// Tables without chunks are left out of the result.
func Project(logger logrus.FieldLogger, chunks map[string][]string, kept models.IDSet,
	format models.StagingFormat, outDir string) (map[string]models.FinalFile, error) {

	finals := make(map[string]models.FinalFile)
	for _, table := range tableOrder(chunks) {
		paths := chunks[table]
		if len(paths) == 0 {
			continue
		}
		final, err := projectTable(table, paths, kept, format, outDir)
		if err != nil {
			err = errors.Wrapf(err, "failed to filter table %s", table)
			logger.Error(err)
			return nil, err
		}
		logger.WithFields(logrus.Fields{"table": table, "rows": final.Rows}).Info("Wrote final table")
		finals[table] = final
	}
	return finals, nil
}

// tableOrder returns the known tables in load order followed by any others by name.
func tableOrder(chunks map[string][]string) []string {
	var order []string
	seen := make(map[string]bool)
	for _, t := range models.LoadOrder {
		if _, ok := chunks[t]; ok {
			order = append(order, t)
			seen[t] = true
		}
	}
	var rest []string
	for t := range chunks {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// unionColumns merges the headers of every chunk. Declared columns come first
// in declared order, the rest follow in the order they were first seen.
func unionColumns(table string, paths []string) ([]string, error) {
	present := make(map[string]bool)
	var seen []string
	for _, path := range paths {
		r, err := staging.OpenReader(path)
		if err != nil {
			return nil, err
		}
		for _, c := range r.Columns() {
			if !present[c] {
				present[c] = true
				seen = append(seen, c)
			}
		}
		r.Close()
	}

	declared, ok := models.TableByName(table)
	if len(seen) == 0 {
		if ok {
			return declared.ColumnNames(), nil
		}
		return []string{models.RecordIDColumn, models.CaseIDColumn}, nil
	}

	var columns []string
	used := make(map[string]bool)
	for _, c := range declared.ColumnNames() {
		if present[c] {
			columns = append(columns, c)
			used[c] = true
		}
	}
	for _, c := range seen {
		if !used[c] {
			columns = append(columns, c)
		}
	}
	return columns, nil
}

func projectTable(table string, paths []string, kept models.IDSet, format models.StagingFormat, outDir string) (models.FinalFile, error) {
	columns, err := unionColumns(table, paths)
	if err != nil {
		return models.FinalFile{}, err
	}
	if _, missing := staging.IndexOf(columns, models.RecordIDColumn); len(missing) > 0 {
		return models.FinalFile{}, &faerserrors.SchemaMismatchError{File: table, Missing: missing}
	}
	position := make(map[string]int, len(columns))
	for i, c := range columns {
		position[c] = i
	}
	drugName := -1
	if table == models.TableDrug {
		if p, ok := position[models.DrugNameColumn]; ok {
			drugName = p
		}
	}

	path := filepath.Join(outDir, staging.FinalName(table, format))
	w, err := staging.NewWriter(path, columns, format)
	if err != nil {
		return models.FinalFile{}, err
	}

	out := make([]string, len(columns))
	for _, chunk := range paths {
		if err := copyKept(chunk, kept, position, drugName, out, w); err != nil {
			w.Close()
			return models.FinalFile{}, err
		}
	}
	if err := w.Close(); err != nil {
		return models.FinalFile{}, err
	}
	return models.FinalFile{Table: table, Path: path, Rows: w.Count()}, nil
}

func copyKept(chunk string, kept models.IDSet, position map[string]int, drugName int, out []string, w staging.Writer) error {
	r, err := staging.OpenReader(chunk)
	if err != nil {
		return err
	}
	defer r.Close()

	cols := r.Columns()
	if len(cols) == 0 {
		return nil
	}
	recordID := -1
	target := make([]int, len(cols))
	for i, c := range cols {
		target[i] = position[c]
		if c == models.RecordIDColumn {
			recordID = i
		}
	}
	if recordID < 0 {
		return &faerserrors.SchemaMismatchError{File: chunk, Missing: []string{models.RecordIDColumn}}
	}

	for r.Next() {
		row := r.Row()
		if !kept.Contains(row[recordID]) {
			continue
		}
		for i := range out {
			out[i] = ""
		}
		for i, v := range row {
			out[target[i]] = v
		}
		if drugName >= 0 {
			out[drugName] = CleanDrugName(out[drugName])
		}
		if err := w.Write(out); err != nil {
			return err
		}
	}
	return r.Err()
}

// CaseIDs returns the distinct caseid values of a final file.
func CaseIDs(path string) (models.IDSet, error) {
	ids := models.NewIDSet()
	r, err := staging.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if len(r.Columns()) == 0 {
		return ids, nil
	}
	idx, missing := staging.IndexOf(r.Columns(), models.CaseIDColumn)
	if len(missing) > 0 {
		return nil, &faerserrors.SchemaMismatchError{File: path, Missing: missing}
	}
	for r.Next() {
		if id := r.Row()[idx[models.CaseIDColumn]]; id != "" {
			ids.Add(id)
		}
	}
	return ids, r.Err()
}
