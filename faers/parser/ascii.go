package parser

import (
	"archive/zip"
	"bufio"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dimchansky/utfbom"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"github.com/CMSgov/faers-app/faers/models"
)

const (
	asciiDelimiter = "$"
	maxLineSize    = 16 * 1024 * 1024
)

// lineReader splits a $ delimited member into lower case headers and rows.
type lineReader struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	header  []string
	name    string
}

func openLines(f *zip.File) (*lineReader, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "could not open archive member %s", f.Name)
	}
	scanner := bufio.NewScanner(utfbom.SkipOnly(rc))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lr := &lineReader{rc: rc, scanner: scanner, name: f.Name}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			rc.Close()
			return nil, errors.Wrapf(err, "could not read header of %s", f.Name)
		}
		return lr, nil
	}
	for _, h := range splitLine(scanner.Text()) {
		lr.header = append(lr.header, strings.ToLower(strings.TrimSpace(h)))
	}
	return lr, nil
}

// next returns the next row as a record, or nil at the end of the member.
func (lr *lineReader) next() (models.Record, error) {
	for lr.header != nil && lr.scanner.Scan() {
		line := lr.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitLine(line)
		rec := make(models.Record, len(lr.header))
		for i, h := range lr.header {
			if h == "" || i >= len(fields) {
				continue
			}
			if v := strings.TrimSpace(fields[i]); v != "" {
				rec[h] = v
			}
		}
		return rec, nil
	}
	if err := lr.scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read %s", lr.name)
	}
	return nil, nil
}

func (lr *lineReader) close() error {
	return lr.rc.Close()
}

var windows1252 = charmap.Windows1252.NewDecoder()

func splitLine(line string) []string {
	line = strings.TrimRight(line, "\r")
	if !utf8.ValidString(line) {
		if decoded, err := windows1252.String(line); err == nil {
			line = decoded
		}
	}
	return strings.Split(line, asciiDelimiter)
}

// asciiReports yields one report per demographic row. Rows of the other
// tables are indexed by primaryid up front and attached as reports are built.
type asciiReports struct {
	logger    logrus.FieldLogger
	zr        *zip.ReadCloser
	demo      *lineReader
	related   map[string]map[string][]models.Record
	nullified models.IDSet
	current   *models.Report
	err       error
}

func newASCIIReports(logger logrus.FieldLogger, zr *zip.ReadCloser) (*asciiReports, error) {
	r := &asciiReports{
		logger:    logger,
		zr:        zr,
		related:   make(map[string]map[string][]models.Record),
		nullified: models.NewIDSet(),
	}

	var demoFile *zip.File
	for _, f := range zr.File {
		if isDeletionFile(f.Name) {
			if err := r.readDeletions(f); err != nil {
				return nil, err
			}
			continue
		}
		table, ok := tableFile(f.Name)
		if !ok {
			continue
		}
		if table == models.TableDemo {
			if demoFile == nil {
				demoFile = f
			}
			continue
		}
		if _, seen := r.related[table]; seen {
			continue
		}
		if err := r.indexTable(table, f); err != nil {
			return nil, err
		}
	}

	if demoFile == nil {
		logger.Warn("No demographic member found in archive")
		return r, nil
	}
	demo, err := openLines(demoFile)
	if err != nil {
		return nil, err
	}
	r.demo = demo
	return r, nil
}

func (r *asciiReports) readDeletions(f *zip.File) error {
	lr, err := openLines(f)
	if err != nil {
		return err
	}
	defer lr.close()

	hasCaseID := false
	for _, h := range lr.header {
		if h == models.CaseIDColumn {
			hasCaseID = true
		}
	}
	if !hasCaseID {
		r.logger.Warnf("Deletion file %s has no caseid column, skipping", f.Name)
		return nil
	}

	before := r.nullified.Len()
	for {
		rec, err := lr.next()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if id := rec[models.CaseIDColumn]; id != "" {
			r.nullified.Add(id)
		}
	}
	r.logger.Infof("Read %d nullified cases from %s", r.nullified.Len()-before, f.Name)
	return nil
}

func (r *asciiReports) indexTable(table string, f *zip.File) error {
	lr, err := openLines(f)
	if err != nil {
		return err
	}
	defer lr.close()

	index := make(map[string][]models.Record)
	var rows int
	for {
		rec, err := lr.next()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		id := rec[models.RecordIDColumn]
		if id == "" {
			continue
		}
		index[id] = append(index[id], rec)
		rows++
	}
	r.related[table] = index
	r.logger.WithFields(logrus.Fields{"table": table, "rows": rows}).Debugf("Indexed %s", f.Name)
	return nil
}

func (r *asciiReports) Next() bool {
	if r.err != nil || r.demo == nil {
		return false
	}
	for {
		rec, err := r.demo.next()
		if err != nil {
			r.err = err
			return false
		}
		if rec == nil {
			return false
		}
		caseID := rec[models.CaseIDColumn]
		if r.nullified.Contains(caseID) {
			continue
		}

		recordID := rec[models.RecordIDColumn]
		report := models.NewReport(recordID, caseID)
		report.Add(models.TableDemo, rec)
		// Child rows stay indexed until the demo stream ends, since a
		// primaryid may repeat in DEMO.
		for _, table := range models.LoadOrder[1:] {
			for _, row := range r.related[table][recordID] {
				rec := make(models.Record, len(row))
				for k, v := range row {
					rec[k] = v
				}
				rec[models.CaseIDColumn] = caseID
				report.Add(table, rec)
			}
		}
		r.current = report
		return true
	}
}

func (r *asciiReports) Report() *models.Report { return r.current }

func (r *asciiReports) Err() error { return r.err }

func (r *asciiReports) Nullified() models.IDSet { return r.nullified }

func (r *asciiReports) Close() error {
	r.related = nil
	if r.demo != nil {
		r.demo.close()
	}
	return r.zr.Close()
}
