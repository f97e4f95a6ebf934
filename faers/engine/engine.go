package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/constants"
	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/metrics"
	"github.com/CMSgov/faers-app/faers/models"
	"github.com/CMSgov/faers-app/faers/parser"
	"github.com/CMSgov/faers-app/faers/processing"
	"github.com/CMSgov/faers-app/faers/staging"
)

// Source locates and retrieves quarterly archives.
type Source interface {
	LatestPeriod(ctx context.Context) (models.Period, error)
	Fetch(ctx context.Context, p models.Period) (path string, checksum string, err error)
}

type State int

const (
	Idle State = iota
	Running
	CommittedSuccess
	RolledBackFailed
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case CommittedSuccess:
		return "COMMITTED_SUCCESS"
	case RolledBackFailed:
		return "ROLLED_BACK_FAILED"
	default:
		return "IDLE"
	}
}

type Config struct {
	StagingFormat models.StagingFormat
	ChunkSize     int
	// StagingRoot is where per period staging directories are created.
	// Empty means the system temp directory.
	StagingRoot string
}

// Result is the outcome of the post-load consistency check.
type Result struct {
	Passed  bool
	Message string
}

// Makes the decoder mockable for testing
var openArchive = parser.Open

// Engine runs one load. It is not reusable: create a new Engine per invocation.
type Engine struct {
	logger logrus.FieldLogger
	store  models.Store
	source Source
	cfg    Config
	state  State
	now    func() time.Time
}

func New(logger logrus.FieldLogger, store models.Store, source Source, cfg Config) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = constants.DefaultChunkSize
	}
	if cfg.StagingFormat == "" {
		cfg.StagingFormat = models.FormatParquet
	}
	return &Engine{
		logger: logger,
		store:  store,
		source: source,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) State() State {
	return e.state
}

// Run loads either the explicit period or, in delta mode, every period after
// the last successful one up to the latest available. All periods share one
// transaction. A nil Result with a nil error means there was nothing to load.
func (e *Engine) Run(ctx context.Context, mode, explicitPeriod string) (*Result, error) {
	if e.state != Idle {
		return nil, errors.Errorf("engine already ran, state %s", e.state)
	}

	// An explicit period runs as a partial load whatever the mode says.
	mode = strings.ToLower(strings.TrimSpace(mode))
	var explicit *models.Period
	if strings.TrimSpace(explicitPeriod) != "" {
		p, err := models.ParsePeriod(explicitPeriod)
		if err != nil {
			return nil, err
		}
		explicit = &p
		mode = constants.ModePartial
	} else if mode == constants.ModePartial {
		return nil, &faerserrors.UnsupportedModeError{Mode: mode + " without a period"}
	} else if mode != constants.ModeDelta {
		return nil, &faerserrors.UnsupportedModeError{Mode: mode}
	}

	ctx, closeTimer := metrics.NewParent(ctx, "FAERS load")
	defer closeTimer()

	e.logger.Infof("Starting FAERS load in %s mode", mode)
	if err := e.store.Begin(ctx); err != nil {
		e.state = RolledBackFailed
		return nil, err
	}
	e.state = Running

	loaded, failed, err := e.loadPeriods(ctx, explicit)
	if err != nil {
		e.rollback(ctx, failed)
		return nil, err
	}

	if err := e.store.Commit(ctx); err != nil {
		e.state = RolledBackFailed
		err = errors.Wrap(err, "failed to commit load")
		e.logger.Error(err)
		return nil, err
	}
	e.state = CommittedSuccess

	if !loaded {
		return nil, nil
	}
	e.logger.Info("Load committed, running consistency check")
	passed, msg, err := e.store.ConsistencyCheck(ctx)
	return &Result{Passed: passed, Message: msg}, err
}

// rollback discards the run and then records the failing period's history
// row again, outside the transaction, so the failure remains visible.
func (e *Engine) rollback(ctx context.Context, failed *models.LoadRun) {
	if err := e.store.Rollback(ctx); err != nil {
		e.logger.Errorf("Failed to roll back: %s", err)
	} else {
		e.logger.Error("Transaction has been rolled back")
	}
	e.state = RolledBackFailed

	if failed != nil {
		if err := e.store.RecordRun(ctx, *failed); err != nil {
			e.logger.Errorf("Failed to record failed load %s for %s: %s", failed.LoadID, failed.Period, err)
		}
	}
}

// loadPeriods reports false when there was nothing to do.
func (e *Engine) loadPeriods(ctx context.Context, explicit *models.Period) (bool, *models.LoadRun, error) {
	if explicit != nil {
		run, err := e.processPeriod(ctx, *explicit, constants.LoadTypePartial)
		if err != nil {
			return false, run, err
		}
		return true, nil, nil
	}

	periods, err := e.pendingPeriods(ctx)
	if err != nil || len(periods) == 0 {
		return false, nil, err
	}
	for _, p := range periods {
		if run, err := e.processPeriod(ctx, p, constants.LoadTypeDelta); err != nil {
			return false, run, err
		}
	}
	return true, nil, nil
}

// pendingPeriods lists the periods a delta load should process, oldest first.
// Without history only the latest period is loaded.
func (e *Engine) pendingPeriods(ctx context.Context) ([]models.Period, error) {
	last, ok, err := e.store.LastSuccessfulPeriod(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := e.source.LatestPeriod(ctx)
	if err != nil {
		e.logger.Warnf("Could not determine the latest available period, nothing to load: %s", err)
		return nil, nil
	}

	if !ok {
		e.logger.Infof("No previous successful load, starting with %s", latest)
		return []models.Period{latest}, nil
	}
	lastPeriod, err := models.ParsePeriod(last)
	if err != nil {
		return nil, errors.Wrapf(err, "load history holds an invalid period")
	}
	if lastPeriod.Compare(latest) >= 0 {
		e.logger.Infof("Database is up to date with %s, nothing to load", lastPeriod)
		return nil, nil
	}
	periods := models.PeriodsBetween(lastPeriod, latest)
	e.logger.Infof("Loading %d periods from %s through %s", len(periods), periods[0], latest)
	return periods, nil
}

// processPeriod loads one period and always persists its history row and
// removes its staging directory. On failure the returned run carries the
// FAILED state so it can be recorded again after a rollback.
func (e *Engine) processPeriod(ctx context.Context, p models.Period, loadType string) (run *models.LoadRun, err error) {
	run = &models.LoadRun{
		LoadID:   uuid.New(),
		Period:   p.String(),
		LoadType: loadType,
		Start:    e.now(),
		Status:   constants.LoadRunning,
	}
	logger := e.logger.WithFields(logrus.Fields{"quarter": run.Period, "load_id": run.LoadID})
	logger.Infof("Processing %s load", loadType)

	if err = e.store.RecordRun(ctx, *run); err != nil {
		e.finish(logger, run, err)
		return run, err
	}

	stagingDir, err := os.MkdirTemp(e.cfg.StagingRoot, constants.StagingDirPrefix+run.Period+"_")
	if err != nil {
		err = errors.Wrap(err, "could not create staging directory")
		e.finish(logger, run, err)
		return run, err
	}

	defer func() {
		e.finish(logger, run, err)
		if persistErr := e.store.RecordRun(ctx, *run); persistErr != nil {
			logger.Errorf("Failed to record load history: %s", persistErr)
			if err == nil {
				err = persistErr
				e.finish(logger, run, err)
			}
		}
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			logger.Warnf("Failed to remove staging directory %s: %s", stagingDir, rmErr)
		}
	}()

	err = e.loadPeriod(ctx, logger, p, run, stagingDir)
	return run, err
}

// finish stamps the end of a run with its outcome.
func (e *Engine) finish(logger logrus.FieldLogger, run *models.LoadRun, err error) {
	end := e.now()
	run.End = &end
	if err != nil {
		msg := err.Error()
		run.Status = constants.LoadFailed
		run.ErrorMessage = &msg
		logger.Errorf("Load of %s failed: %s", run.Period, msg)
		return
	}
	run.Status = constants.LoadSuccess
	run.ErrorMessage = nil
	logger.WithFields(logrus.Fields{
		"rows_extracted": run.RowsExtracted,
		"rows_loaded":    run.RowsLoaded,
		"rows_updated":   run.RowsUpdated,
		"rows_deleted":   run.RowsDeleted,
	}).Infof("Load of %s succeeded", run.Period)
}

func (e *Engine) loadPeriod(ctx context.Context, logger logrus.FieldLogger, p models.Period, run *models.LoadRun, stagingDir string) error {
	closeTimer := metrics.NewChild(ctx, fmt.Sprintf("download %s", p))
	archive, checksum, err := e.source.Fetch(ctx, p)
	closeTimer()
	if err != nil {
		var downloadErr *faerserrors.DownloadError
		if !errors.As(err, &downloadErr) {
			err = &faerserrors.DownloadError{Period: p.String(), Err: err}
		}
		return err
	}
	run.SourceChecksum = checksum

	reports, err := openArchive(logger, archive)
	if err != nil {
		return err
	}
	defer reports.Close()

	closeTimer = metrics.NewChild(ctx, "stage")
	staged, err := staging.NewStager(logger, stagingDir, e.cfg.StagingFormat, e.cfg.ChunkSize).Stage(reports)
	closeTimer()
	if err != nil {
		return err
	}
	run.RowsExtracted = staged.Rows[models.TableDemo]

	nullified := reports.Nullified()
	if nullified.Len() > 0 {
		logger.Infof("Deleting %d nullified cases", nullified.Len())
		deleted, err := e.store.DeleteByCase(ctx, nullified)
		if err != nil {
			return err
		}
		run.RowsDeleted += deleted
	}

	demoChunks := staged.Chunks[models.TableDemo]
	if len(demoChunks) == 0 {
		logger.Info("No demographic data staged, nothing to merge")
		return nil
	}

	closeTimer = metrics.NewChild(ctx, "deduplicate")
	kept, err := processing.Deduplicate(logger, demoChunks, nullified)
	closeTimer()
	if err != nil {
		return err
	}

	closeTimer = metrics.NewChild(ctx, "filter")
	finals, err := processing.Project(logger, staged.Chunks, kept, e.cfg.StagingFormat, stagingDir)
	closeTimer()
	if err != nil {
		return err
	}

	demo, ok := finals[models.TableDemo]
	if !ok {
		return nil
	}
	caseIDs, err := processing.CaseIDs(demo.Path)
	if err != nil {
		return err
	}
	if caseIDs.Len() == 0 {
		logger.Info("No cases survived deduplication, nothing to merge")
		return nil
	}

	closeTimer = metrics.NewChild(ctx, "merge")
	stats, err := e.store.DeltaMerge(ctx, caseIDs, finals)
	closeTimer()
	if err != nil {
		return err
	}
	run.RowsUpdated = stats.Deleted
	run.RowsLoaded = stats.Loaded
	return nil
}
