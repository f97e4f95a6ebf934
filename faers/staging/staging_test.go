package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
)

type sliceSource struct {
	reports []*models.Report
	pos     int
}

func (s *sliceSource) Next() bool {
	if s.pos >= len(s.reports) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceSource) Report() *models.Report { return s.reports[s.pos-1] }
func (s *sliceSource) Err() error             { return nil }

type StagingTestSuite struct {
	suite.Suite
	dir string
}

func (s *StagingTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func TestStagingTestSuite(t *testing.T) {
	suite.Run(t, new(StagingTestSuite))
}

func readAll(t *testing.T, path string) ([]string, [][]string) {
	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var rows [][]string
	for r.Next() {
		rows = append(rows, append([]string(nil), r.Row()...))
	}
	require.NoError(t, r.Err())
	return r.Columns(), rows
}

func (s *StagingTestSuite) TestWriteAndReadBack() {
	for _, format := range []models.StagingFormat{models.FormatCSV, models.FormatParquet} {
		s.T().Run(string(format), func(t *testing.T) {
			path := filepath.Join(s.dir, FinalName("drug", format))
			columns := []string{"primaryid", "caseid", "drugname", "zeta"}

			w, err := NewWriter(path, columns, format)
			require.NoError(t, err)
			require.NoError(t, w.Write([]string{"1", "10", "ASPIRIN", ""}))
			require.NoError(t, w.Write([]string{"2", "20", "", "x$y"}))
			assert.EqualValues(t, 2, w.Count())
			require.NoError(t, w.Close())

			gotCols, rows := readAll(t, path)
			assert.Equal(t, columns, gotCols)
			assert.Equal(t, [][]string{
				{"1", "10", "ASPIRIN", ""},
				{"2", "20", "", "x$y"},
			}, rows)
		})
	}
}

func (s *StagingTestSuite) TestEmptyFileKeepsHeader() {
	for _, format := range []models.StagingFormat{models.FormatCSV, models.FormatParquet} {
		path := filepath.Join(s.dir, FinalName("reac", format))
		w, err := NewWriter(path, []string{"primaryid", "caseid", "pt"}, format)
		s.Require().NoError(err)
		s.Require().NoError(w.Close())

		cols, rows := readAll(s.T(), path)
		assert.Equal(s.T(), []string{"primaryid", "caseid", "pt"}, cols)
		assert.Empty(s.T(), rows)
	}
}

func (s *StagingTestSuite) TestZeroByteFiles() {
	for _, name := range []string{"demo_chunk_1.csv", "demo_chunk_1.parquet"} {
		path := filepath.Join(s.dir, name)
		s.Require().NoError(os.WriteFile(path, nil, 0600))

		cols, rows := readAll(s.T(), path)
		assert.Empty(s.T(), cols)
		assert.Empty(s.T(), rows)
	}
}

func (s *StagingTestSuite) TestUnsupportedExtension() {
	_, err := OpenReader(filepath.Join(s.dir, "demo.feather"))
	var formatErr *faerserrors.UnsupportedFormatError
	assert.ErrorAs(s.T(), err, &formatErr)

	_, err = NewWriter(filepath.Join(s.dir, "demo.feather"), []string{"a"}, models.StagingFormat("feather"))
	assert.ErrorAs(s.T(), err, &formatErr)
}

func (s *StagingTestSuite) TestStageSplitsChunks() {
	var reports []*models.Report
	for _, id := range []string{"1", "2", "3"} {
		r := models.NewReport(id, "c"+id)
		r.Add(models.TableDemo, models.Record{"fda_dt": "20240101"})
		r.Add(models.TableDrug, models.Record{"drugname": "A"})
		r.Add(models.TableDrug, models.Record{"drugname": "B", "extra_col": "e"})
		reports = append(reports, r)
	}

	logger, _ := test.NewNullLogger()
	result, err := NewStager(logger, s.dir, models.FormatCSV, 2).Stage(&sliceSource{reports: reports})
	s.Require().NoError(err)

	assert.Len(s.T(), result.Chunks[models.TableDemo], 2)
	assert.Len(s.T(), result.Chunks[models.TableDrug], 3)
	assert.EqualValues(s.T(), 3, result.Rows[models.TableDemo])
	assert.EqualValues(s.T(), 6, result.Rows[models.TableDrug])
	assert.NotContains(s.T(), result.Chunks, models.TableReac)
	assert.Equal(s.T(), filepath.Join(s.dir, "demo_chunk_1.csv"), result.Chunks[models.TableDemo][0])

	cols, rows := readAll(s.T(), result.Chunks[models.TableDrug][0])
	assert.Equal(s.T(), "extra_col", cols[len(cols)-1])
	assert.Len(s.T(), rows, 2)
}

func (s *StagingTestSuite) TestIndexOf() {
	idx, missing := IndexOf([]string{"caseid", "primaryid"}, "primaryid", "caseid", "fda_dt")
	assert.Equal(s.T(), map[string]int{"primaryid": 1, "caseid": 0}, idx)
	assert.Equal(s.T(), []string{"fda_dt"}, missing)
}
