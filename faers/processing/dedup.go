package processing

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
	"github.com/CMSgov/faers-app/faers/staging"
)

const receiptDateLayout = "20060102"

// Makes the chunk reader mockable for testing
var openReader = staging.OpenReader

type candidate struct {
	recordID string
	received time.Time
}

// wins reports whether c supersedes the current best version of its case:
// later receipt date first, then the lexicographically greater primaryid.
func (c candidate) wins(best candidate) bool {
	if !c.received.Equal(best.received) {
		return c.received.After(best.received)
	}
	return c.recordID > best.recordID
}

// Deduplicate streams the demographic chunks and returns the primaryid of the
// latest version of every case that is not nullified. Rows with a missing
// identifier or an unparseable receipt date are never kept.
func Deduplicate(logger logrus.FieldLogger, demoChunks []string, nullified models.IDSet) (kept models.IDSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("Recovered while deduplicating %d demographic chunks, no records will be kept: %v", len(demoChunks), r)
			kept, err = models.NewIDSet(), nil
		}
	}()

	best := make(map[string]candidate)
	var scanned, dropped int64
	for _, path := range demoChunks {
		n, d, err := scanDemographics(logger, path, nullified, best)
		if err != nil {
			return nil, err
		}
		scanned += n
		dropped += d
	}

	kept = models.NewIDSet()
	for _, c := range best {
		kept.Add(c.recordID)
	}
	logger.WithFields(logrus.Fields{"scanned": scanned, "dropped": dropped, "kept": kept.Len()}).
		Info("Deduplicated demographic records")
	return kept, nil
}

func scanDemographics(logger logrus.FieldLogger, path string, nullified models.IDSet, best map[string]candidate) (scanned, dropped int64, err error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("Demographic chunk %s does not exist, skipping", path)
		return 0, 0, nil
	}

	r, err := openReader(path)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	if len(r.Columns()) == 0 {
		return 0, 0, nil
	}
	idx, missing := staging.IndexOf(r.Columns(), models.RecordIDColumn, models.CaseIDColumn, models.ReceiptColumn)
	if len(missing) > 0 {
		return 0, 0, &faerserrors.SchemaMismatchError{File: path, Missing: missing}
	}

	for r.Next() {
		scanned++
		row := r.Row()
		recordID := row[idx[models.RecordIDColumn]]
		caseID := row[idx[models.CaseIDColumn]]
		if recordID == "" || caseID == "" || nullified.Contains(caseID) {
			dropped++
			continue
		}
		received, err := time.Parse(receiptDateLayout, row[idx[models.ReceiptColumn]])
		if err != nil {
			dropped++
			continue
		}

		c := candidate{recordID: recordID, received: received}
		if cur, ok := best[caseID]; !ok || c.wins(cur) {
			best[caseID] = c
		}
	}
	return scanned, dropped, r.Err()
}
