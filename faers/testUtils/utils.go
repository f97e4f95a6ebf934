package testUtils

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Pallinder/go-randomdata"
	"github.com/otiai10/copy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CMSgov/faers-app/faers/models"
)

// CtxMatcher allow us to validate that the caller supplied a context.Context argument
// See: https://github.com/stretchr/testify/issues/519
var CtxMatcher = mock.MatchedBy(func(ctx context.Context) bool { return true })

// CopyToTemporaryDirectory copies all of the content found at src into a temporary directory.
// The path to the temporary directory is returned along with a function that can be called to clean up the data.
func CopyToTemporaryDirectory(t *testing.T, src string) (string, func()) {
	newPath, err := os.MkdirTemp("", "*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory %s", err.Error())
	}

	if err = copy.Copy(src, newPath); err != nil {
		t.Fatalf("Failed to copy contents from %s to %s %s", src, newPath, err.Error())
	}

	cleanup := func() {
		err := os.RemoveAll(newPath)
		if err != nil {
			t.Logf("Failed to cleanup data %s", err.Error())
		}
	}

	return newPath, cleanup
}

// ZipDirectory writes every regular file under dir into a new archive at out,
// keeping paths relative to dir.
func ZipDirectory(t *testing.T, dir, out string) string {
	f, err := os.Create(out)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out
}

// WriteZip creates an archive at out holding the given members.
func WriteZip(t *testing.T, out string, members map[string]string) string {
	f, err := os.Create(out)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return out
}

// ASCIIMembers renders reports as the $ delimited members of a quarterly
// ASCII release. Nullified case ids go into a deletion file.
func ASCIIMembers(suffix string, reports []*models.Report, nullified ...string) map[string]string {
	members := make(map[string]string)
	for _, table := range models.Tables() {
		var b strings.Builder
		cols := table.ColumnNames()
		b.WriteString(strings.Join(cols, "$"))
		b.WriteString("\n")
		rows := 0
		for _, r := range reports {
			for _, rec := range r.Tables[table.Name] {
				values := make([]string, len(cols))
				for i, c := range cols {
					values[i] = rec[c]
				}
				b.WriteString(strings.Join(values, "$"))
				b.WriteString("\n")
				rows++
			}
		}
		if rows > 0 || table.Name == models.TableDemo {
			members[fmt.Sprintf("ASCII/%s%s.txt", strings.ToUpper(table.Name), suffix)] = b.String()
		}
	}
	if len(nullified) > 0 {
		members[fmt.Sprintf("ASCII/DELETED_CASES_%s.txt", suffix)] = "caseid\n" + strings.Join(nullified, "\n") + "\n"
	}
	return members
}

// RandomReport builds a report with a demographic row, a drug and a reaction.
func RandomReport(recordID, caseID, received string) *models.Report {
	r := models.NewReport(recordID, caseID)
	r.Add(models.TableDemo, models.Record{
		models.ReceiptColumn: received,
		"sex":                randomdata.StringSample("F", "M"),
		"age":                fmt.Sprint(randomdata.Number(18, 90)),
		"age_cod":            "YR",
		"reporter_country":   randomdata.Country(randomdata.TwoCharCountry),
		"occr_country":       randomdata.Country(randomdata.TwoCharCountry),
	})
	r.Add(models.TableDrug, models.Record{
		"drug_seq":            "1",
		"role_cod":            "PS",
		models.DrugNameColumn: randomdata.SillyName(),
	})
	r.Add(models.TableReac, models.Record{"pt": randomdata.Noun()})
	return r
}

// AssertIDs compares an id set against the expected members in any order.
func AssertIDs(t *testing.T, expected []string, actual models.IDSet) {
	assert.ElementsMatch(t, expected, actual.Sorted())
}
