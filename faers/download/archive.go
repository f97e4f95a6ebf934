package download

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/CMSgov/faers-app/faers/models"
)

var archivePattern = regexp.MustCompile(`(?i)faers_ascii_(\d{4}q[1-4])\.zip`)

// ArchiveName is the file name of a period's release.
func ArchiveName(p models.Period) string {
	return "faers_ascii_" + p.String() + ".zip"
}

// LatestIn returns the greatest period named by any archive link in text.
func LatestIn(text string) (models.Period, bool) {
	var latest models.Period
	found := false
	for _, m := range archivePattern.FindAllStringSubmatch(text, -1) {
		p, err := models.ParsePeriod(m[1])
		if err != nil {
			continue
		}
		if !found || p.Compare(latest) > 0 {
			latest, found = p, true
		}
	}
	return latest, found
}

// VerifyArchive reads every member to the end so the CRC of each is checked.
func VerifyArchive(path string) error {
	zr, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "%s is not a valid zip archive", path)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return errors.Wrapf(err, "could not open member %s of %s", f.Name, path)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return errors.Wrapf(err, "member %s of %s is corrupt", f.Name, path)
		}
	}
	return nil
}

// Checksum returns the hex encoded SHA-256 of the file.
func Checksum(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", errors.Wrapf(err, "could not open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "could not read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
