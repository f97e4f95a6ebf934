package processing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
	"github.com/CMSgov/faers-app/faers/staging"
)

var demoColumns = []string{"primaryid", "caseid", "fda_dt", "sex"}

type ProcessingTestSuite struct {
	suite.Suite
	dir string
}

func (s *ProcessingTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func TestProcessingTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessingTestSuite))
}

func (s *ProcessingTestSuite) writeChunk(name string, columns []string, rows ...[]string) string {
	path := filepath.Join(s.dir, name)
	format := models.FormatCSV
	if filepath.Ext(name) == ".parquet" {
		format = models.FormatParquet
	}
	w, err := staging.NewWriter(path, columns, format)
	s.Require().NoError(err)
	for _, r := range rows {
		s.Require().NoError(w.Write(r))
	}
	s.Require().NoError(w.Close())
	return path
}

func (s *ProcessingTestSuite) TestDeduplicateKeepsLatestVersion() {
	chunk := s.writeChunk("demo_chunk_1.csv", demoColumns,
		[]string{"100", "10", "20240101", "F"},
		[]string{"101", "10", "20240215", "F"},
		[]string{"200", "20", "20240110", "M"},
		[]string{"201", "20", "20240110", "M"},
		[]string{"300", "30", "20231231", ""},
	)

	logger, _ := test.NewNullLogger()
	kept, err := Deduplicate(logger, []string{chunk}, models.NewIDSet())
	s.Require().NoError(err)
	assert.Equal(s.T(), []string{"101", "201", "300"}, kept.Sorted())
}

func (s *ProcessingTestSuite) TestDeduplicateTieBreakIsLexicographic() {
	chunk := s.writeChunk("demo_chunk_1.csv", demoColumns,
		[]string{"301", "3", "20240401", "F"},
		[]string{"302", "3", "20240401", "F"},
		[]string{"999", "4", "20240101", "F"},
		[]string{"1000", "4", "20240101", "F"},
	)

	logger, _ := test.NewNullLogger()
	kept, err := Deduplicate(logger, []string{chunk}, models.NewIDSet())
	s.Require().NoError(err)
	assert.Equal(s.T(), []string{"302", "999"}, kept.Sorted())
}

func (s *ProcessingTestSuite) TestDeduplicateDropsNullifiedAndInvalid() {
	chunk := s.writeChunk("demo_chunk_1.parquet", demoColumns,
		[]string{"100", "10", "20240101", ""},
		[]string{"200", "20", "not-a-date", ""},
		[]string{"", "30", "20240101", ""},
		[]string{"400", "", "20240101", ""},
		[]string{"500", "50", "", ""},
		[]string{"600", "60", "20240230", ""},
		[]string{"700", "70", "20240301", ""},
	)

	logger, _ := test.NewNullLogger()
	kept, err := Deduplicate(logger, []string{chunk}, models.NewIDSet("10"))
	s.Require().NoError(err)
	assert.Equal(s.T(), []string{"700"}, kept.Sorted())
}

func (s *ProcessingTestSuite) TestDeduplicateIsOrderIndependent() {
	a := s.writeChunk("demo_chunk_1.csv", demoColumns,
		[]string{"2", "1", "20240101", ""},
		[]string{"9", "3", "20240105", ""},
	)
	b := s.writeChunk("demo_chunk_2.csv", demoColumns,
		[]string{"3", "1", "20240101", ""},
		[]string{"8", "3", "20240106", ""},
	)

	logger, _ := test.NewNullLogger()
	forward, err := Deduplicate(logger, []string{a, b}, models.NewIDSet())
	s.Require().NoError(err)
	backward, err := Deduplicate(logger, []string{b, a}, models.NewIDSet())
	s.Require().NoError(err)

	assert.Equal(s.T(), forward, backward)
	assert.Equal(s.T(), []string{"3", "8"}, forward.Sorted())
}

func (s *ProcessingTestSuite) TestDeduplicateEmptyInputs() {
	logger, _ := test.NewNullLogger()

	zero := filepath.Join(s.dir, "demo_chunk_1.csv")
	s.Require().NoError(os.WriteFile(zero, nil, 0600))
	headerOnly := s.writeChunk("demo_chunk_2.csv", demoColumns)
	missing := filepath.Join(s.dir, "demo_chunk_3.csv")

	tests := []struct {
		name  string
		paths []string
	}{
		{"no files", nil},
		{"zero byte", []string{zero}},
		{"header only", []string{headerOnly}},
		{"missing", []string{missing}},
	}
	for _, tt := range tests {
		s.T().Run(tt.name, func(t *testing.T) {
			kept, err := Deduplicate(logger, tt.paths, models.NewIDSet())
			assert.NoError(t, err)
			assert.Equal(t, 0, kept.Len())
		})
	}
}

func (s *ProcessingTestSuite) TestDeduplicateSchemaMismatch() {
	chunk := s.writeChunk("demo_chunk_1.csv", []string{"primaryid", "sex"}, []string{"1", "F"})

	logger, _ := test.NewNullLogger()
	_, err := Deduplicate(logger, []string{chunk}, models.NewIDSet())

	var schemaErr *faerserrors.SchemaMismatchError
	s.Require().ErrorAs(err, &schemaErr)
	assert.Equal(s.T(), []string{"caseid", "fda_dt"}, schemaErr.Missing)
}

func (s *ProcessingTestSuite) TestDeduplicateRecoversFromPanic() {
	chunk := s.writeChunk("demo_chunk_1.csv", demoColumns, []string{"1", "1", "20240101", ""})

	orig := openReader
	defer func() { openReader = orig }()
	openReader = func(path string) (staging.RowReader, error) {
		panic("corrupt chunk")
	}

	logger, hook := test.NewNullLogger()
	kept, err := Deduplicate(logger, []string{chunk}, models.NewIDSet())
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 0, kept.Len())
	assert.Contains(s.T(), hook.LastEntry().Message, "corrupt chunk")
}

func (s *ProcessingTestSuite) TestCleanDrugName() {
	tests := []struct {
		in, want string
	}{
		{" Aspirin ", "ASPIRIN"},
		{"NULL", ""},
		{"null", ""},
		{"Drug-X (Y)", "DRUGX Y"},
		{"n.u.l.l", ""},
		{"", ""},
		{"  --  ", ""},
		{"Tylenol 500mg", "TYLENOL 500MG"},
		{"Drug -", "DRUG"},
		{"N-U-L-L", ""},
	}
	for _, tt := range tests {
		got := CleanDrugName(tt.in)
		assert.Equal(s.T(), tt.want, got, tt.in)
		assert.Equal(s.T(), got, CleanDrugName(got), "cleaning %q twice", tt.in)
	}
}

func (s *ProcessingTestSuite) TestProjectFiltersAndCleans() {
	outDir := s.T().TempDir()
	chunks := map[string][]string{
		models.TableDemo: {
			s.writeChunk("demo_chunk_1.csv", demoColumns,
				[]string{"1", "10", "20240101", "F"},
				[]string{"2", "10", "20240201", "F"},
			),
		},
		models.TableDrug: {
			s.writeChunk("drug_chunk_1.csv", []string{"primaryid", "caseid", "drugname"},
				[]string{"1", "10", "old"},
				[]string{"2", "10", " Aspirin "},
			),
			s.writeChunk("drug_chunk_2.csv", []string{"primaryid", "caseid", "drugname", "route"},
				[]string{"2", "10", "Drug-X (Y)", "ORAL"},
			),
		},
		models.TableReac: {},
	}

	logger, _ := test.NewNullLogger()
	finals, err := Project(logger, chunks, models.NewIDSet("2"), models.FormatParquet, outDir)
	s.Require().NoError(err)

	assert.NotContains(s.T(), finals, models.TableReac)
	assert.EqualValues(s.T(), 1, finals[models.TableDemo].Rows)
	assert.EqualValues(s.T(), 2, finals[models.TableDrug].Rows)
	assert.Equal(s.T(), filepath.Join(outDir, "drug_final.parquet"), finals[models.TableDrug].Path)

	r, err := staging.OpenReader(finals[models.TableDrug].Path)
	s.Require().NoError(err)
	defer r.Close()
	assert.Equal(s.T(), []string{"primaryid", "caseid", "drugname", "route"}, r.Columns())

	var rows [][]string
	for r.Next() {
		rows = append(rows, append([]string(nil), r.Row()...))
	}
	s.Require().NoError(r.Err())
	assert.Equal(s.T(), [][]string{
		{"2", "10", "ASPIRIN", ""},
		{"2", "10", "DRUGX Y", "ORAL"},
	}, rows)

	ids, err := CaseIDs(finals[models.TableDemo].Path)
	s.Require().NoError(err)
	assert.Equal(s.T(), []string{"10"}, ids.Sorted())
}

func (s *ProcessingTestSuite) TestProjectEmptyJoinWritesHeader() {
	outDir := s.T().TempDir()
	chunks := map[string][]string{
		models.TableOutc: {s.writeChunk("outc_chunk_1.csv", []string{"primaryid", "caseid", "outc_cod"}, []string{"9", "90", "DE"})},
	}

	logger, _ := test.NewNullLogger()
	finals, err := Project(logger, chunks, models.NewIDSet(), models.FormatCSV, outDir)
	s.Require().NoError(err)
	s.Require().Contains(finals, models.TableOutc)
	assert.EqualValues(s.T(), 0, finals[models.TableOutc].Rows)

	r, err := staging.OpenReader(finals[models.TableOutc].Path)
	s.Require().NoError(err)
	defer r.Close()
	assert.Equal(s.T(), []string{"primaryid", "caseid", "outc_cod"}, r.Columns())
	assert.False(s.T(), r.Next())

	ids, err := CaseIDs(finals[models.TableOutc].Path)
	s.Require().NoError(err)
	assert.Equal(s.T(), 0, ids.Len())
}

func (s *ProcessingTestSuite) TestProjectRequiresPrimaryID() {
	chunks := map[string][]string{
		models.TableReac: {s.writeChunk("reac_chunk_1.csv", []string{"caseid", "pt"}, []string{"1", "Nausea"})},
	}
	logger, _ := test.NewNullLogger()
	_, err := Project(logger, chunks, models.NewIDSet("1"), models.FormatCSV, s.T().TempDir())

	var schemaErr *faerserrors.SchemaMismatchError
	assert.ErrorAs(s.T(), err, &schemaErr)
}
