package parser

import (
	"archive/zip"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/models"
)

// Reports is a lazy, single pass stream of the reports in one archive. The
// nullified case set is complete once Next has returned false.
type Reports interface {
	Next() bool
	Report() *models.Report
	Err() error
	Nullified() models.IDSet
	Close() error
}

// Open inspects the archive and returns the matching decoder. Archives that
// contain an .xml member are decoded as XML, anything else as ASCII.
func Open(logger logrus.FieldLogger, archivePath string) (Reports, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		err = errors.Wrapf(err, "could not open archive %s", archivePath)
		logger.Error(err)
		return nil, err
	}

	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			logger.Infof("Decoding XML member %s of %s", f.Name, archivePath)
			reports, err := newXMLReports(logger, zr, f)
			if err != nil {
				zr.Close()
				return nil, err
			}
			return reports, nil
		}
	}

	logger.Infof("Decoding ASCII members of %s", archivePath)
	reports, err := newASCIIReports(logger, zr)
	if err != nil {
		zr.Close()
		return nil, err
	}
	return reports, nil
}

func baseName(name string) string {
	return strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
}

// isDeletionFile matches DELE*.txt, DELETED_CASES_*.txt and del_*.txt in any case.
func isDeletionFile(name string) bool {
	b := baseName(name)
	return strings.HasSuffix(b, ".txt") && (strings.HasPrefix(b, "dele") || strings.HasPrefix(b, "del_"))
}

// tableFile returns the table a member holds, e.g. DEMO24Q1.txt holds demo.
func tableFile(name string) (string, bool) {
	b := baseName(name)
	if !strings.HasSuffix(b, ".txt") || isDeletionFile(name) {
		return "", false
	}
	for _, t := range models.LoadOrder {
		if strings.HasPrefix(b, t) {
			return t, true
		}
	}
	return "", false
}
