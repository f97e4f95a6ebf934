package models

import (
	"testing"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type PeriodTestSuite struct {
	suite.Suite
}

func TestPeriodTestSuite(t *testing.T) {
	suite.Run(t, new(PeriodTestSuite))
}

func (s *PeriodTestSuite) TestParsePeriod() {
	tests := []struct {
		label   string
		want    Period
		wantErr bool
	}{
		{"2024q1", Period{2024, 1}, false},
		{"2023Q4", Period{2023, 4}, false},
		{" 2019q2 ", Period{2019, 2}, false},
		{"2024q5", Period{}, true},
		{"24q1", Period{}, true},
		{"2024-q1", Period{}, true},
		{"", Period{}, true},
	}

	for _, tt := range tests {
		s.T().Run(tt.label, func(t *testing.T) {
			got, err := ParsePeriod(tt.label)
			if tt.wantErr {
				var periodErr *faerserrors.InvalidPeriodError
				assert.ErrorAs(t, err, &periodErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func (s *PeriodTestSuite) TestNextWrapsYear() {
	assert.Equal(s.T(), "2024q2", Period{2024, 1}.Next().String())
	assert.Equal(s.T(), "2025q1", Period{2024, 4}.Next().String())
}

func (s *PeriodTestSuite) TestCompare() {
	assert.Equal(s.T(), -1, Period{2023, 4}.Compare(Period{2024, 1}))
	assert.Equal(s.T(), 1, Period{2024, 2}.Compare(Period{2024, 1}))
	assert.Equal(s.T(), 0, Period{2024, 2}.Compare(Period{2024, 2}))
}

func (s *PeriodTestSuite) TestPeriodsBetween() {
	got := PeriodsBetween(Period{2023, 3}, Period{2024, 2})
	var labels []string
	for _, p := range got {
		labels = append(labels, p.String())
	}
	assert.Equal(s.T(), []string{"2023q4", "2024q1", "2024q2"}, labels)

	assert.Empty(s.T(), PeriodsBetween(Period{2024, 1}, Period{2024, 1}))
	assert.Empty(s.T(), PeriodsBetween(Period{2024, 2}, Period{2024, 1}))
}

func (s *PeriodTestSuite) TestParseStagingFormat() {
	f, err := ParseStagingFormat("Parquet")
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), FormatParquet, f)

	f, err = ParseStagingFormat("csv")
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), "csv", f.Ext())

	_, err = ParseStagingFormat("feather")
	var formatErr *faerserrors.UnsupportedFormatError
	assert.ErrorAs(s.T(), err, &formatErr)
}

func (s *PeriodTestSuite) TestReportAddFillsIdentifiers() {
	r := NewReport("100", "10")
	r.Add(TableDrug, Record{"drugname": "ASPIRIN"})
	r.Add(TableReac, Record{"primaryid": "override", "pt": "Headache"})

	assert.Equal(s.T(), "100", r.Tables[TableDrug][0][RecordIDColumn])
	assert.Equal(s.T(), "10", r.Tables[TableDrug][0][CaseIDColumn])
	assert.Equal(s.T(), "override", r.Tables[TableReac][0][RecordIDColumn])
}

func (s *PeriodTestSuite) TestSchemaOrders() {
	assert.Equal(s.T(), TableDemo, LoadOrder[0])
	assert.Equal(s.T(), TableDemo, DeleteOrder[len(DeleteOrder)-1])
	assert.Len(s.T(), Tables(), 7)

	demo, ok := TableByName(TableDemo)
	assert.True(s.T(), ok)
	age, ok := demo.Column("age")
	assert.True(s.T(), ok)
	assert.Equal(s.T(), Float, age.Type)
	assert.Equal(s.T(), "primaryid", demo.ColumnNames()[0])
}
