package utils

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/constants"
)

// SweepStagingDirectories removes staging directories under root that were
// left behind by runs that did not finish, and returns how many were removed.
// Only directories named faers_* and last modified before now-olderThan are touched.
func SweepStagingDirectories(logger logrus.FieldLogger, root string, olderThan time.Duration) (removed int, err error) {
	logger.Infof("Preparing to sweep staging directories in %v", root)
	entries, err := os.ReadDir(filepath.Clean(root))
	if err != nil {
		err = errors.Wrapf(err, "could not read dir: %s", root)
		logger.Error(err)
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), constants.StagingDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logger.Warnf("Could not stat %s: %s", entry.Name(), err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		logger.Infof("Deleting %s", path)
		if err := os.RemoveAll(path); err != nil {
			err = errors.Wrapf(err, "error deleting dir: %s", path)
			logger.Error(err)
			return removed, err
		}
		removed++
	}
	return removed, nil
}
