package faerscli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/CMSgov/faers-app/conf"
	"github.com/CMSgov/faers-app/faers/constants"
	"github.com/CMSgov/faers-app/faers/database"
	"github.com/CMSgov/faers-app/faers/download"
	"github.com/CMSgov/faers-app/faers/engine"
	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/metrics"
	"github.com/CMSgov/faers-app/faers/models"
	"github.com/CMSgov/faers-app/faers/models/postgres"
	"github.com/CMSgov/faers-app/faers/utils"
	faerslog "github.com/CMSgov/faers-app/log"
)

// App Name and usage.  Edit them here to prevent breaking tests
const Name = "faers"
const Usage = "FAERS quarterly adverse event loader"

// Overridden in tests
var (
	loadSettings = conf.Load
	setupLogger  = faerslog.Setup
	openStore    = openPostgresStore
	newSource    = newDownloadSource
)

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Version = constants.Version
	var configFile, profile, runProfile, quarter, mode string
	var limit, threshold int
	var drop bool

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config",
			Usage:       "Path to the YAML configuration file",
			Destination: &configFile,
		},
		cli.StringFlag{
			Name:        "profile",
			Usage:       "Configuration profile to apply",
			Destination: &profile,
		},
	}
	quarterFlag := cli.StringFlag{
		Name:        "quarter",
		Usage:       "Quarter to process, e.g. 2024q1",
		Destination: &quarter,
	}

	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "Load new FAERS quarters into the database",
			Flags: []cli.Flag{
				quarterFlag,
				cli.StringFlag{
					Name:        "mode",
					Usage:       "Load mode: delta or partial",
					Value:       constants.ModeDelta,
					Destination: &mode,
				},
				cli.StringFlag{
					Name:        "profile",
					Usage:       "Configuration profile to apply, overrides the global flag",
					Destination: &runProfile,
				},
			},
			Action: func(c *cli.Context) error {
				if runProfile == "" {
					runProfile = profile
				}
				r, err := newRunner(app, configFile, runProfile)
				if err != nil {
					return err
				}
				defer r.close()
				return r.runLoad(mode, quarter)
			},
		},
		{
			Name:  "download",
			Usage: "Download and verify a quarterly archive without loading it",
			Flags: []cli.Flag{quarterFlag},
			Action: func(c *cli.Context) error {
				r, err := newRunner(app, configFile, profile)
				if err != nil {
					return err
				}
				defer r.close()
				return r.download(quarter)
			},
		},
		{
			Name:  "db-init",
			Usage: "Create the FAERS tables and the load history table",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:        "drop",
					Usage:       "Drop existing tables first",
					Destination: &drop,
				},
			},
			Action: func(c *cli.Context) error {
				r, err := newRunner(app, configFile, profile)
				if err != nil {
					return err
				}
				defer r.close()
				return r.initSchema(drop)
			},
		},
		{
			Name:  "db-verify",
			Usage: "Check that every case has exactly one demographic row",
			Action: func(c *cli.Context) error {
				r, err := newRunner(app, configFile, profile)
				if err != nil {
					return err
				}
				defer r.close()
				return r.verify()
			},
		},
		{
			Name:  "history",
			Usage: "Show the most recent loads",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:        "limit",
					Usage:       "Number of loads to show",
					Value:       10,
					Destination: &limit,
				},
			},
			Action: func(c *cli.Context) error {
				r, err := newRunner(app, configFile, profile)
				if err != nil {
					return err
				}
				defer r.close()
				return r.history(limit)
			},
		},
		{
			Name:  "cleanup-staging",
			Usage: "Remove orphaned staging directories",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:        "threshold",
					Usage:       "Only remove directories older than this many hours",
					Value:       24,
					Destination: &threshold,
				},
			},
			Action: func(c *cli.Context) error {
				r, err := newRunner(app, configFile, profile)
				if err != nil {
					return err
				}
				defer r.close()
				return r.cleanupStaging(threshold)
			},
		},
	}
	return app
}

// runner holds what every command needs. The store is opened lazily so
// commands that never touch the database do not need one.
type runner struct {
	app      *cli.App
	settings *conf.Settings
	logger   logrus.FieldLogger
	ctx      context.Context
	timer    metrics.Timer
	closers  []func()
}

func newRunner(app *cli.App, configFile, profile string) (*runner, error) {
	settings, err := loadSettings(profile, configFile)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogger(settings, Name)
	if err != nil {
		return nil, err
	}
	timer := metrics.GetTimer(logger, settings.NewRelic, settings.Environment)
	return &runner{
		app:      app,
		settings: settings,
		logger:   logger,
		ctx:      metrics.NewContext(context.Background(), timer),
		timer:    timer,
	}, nil
}

func (r *runner) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.timer.Close()
}

func (r *runner) store() (models.Store, error) {
	store, closeStore, err := openStore(r.ctx, r.logger, r.settings.DB)
	if err != nil {
		r.logger.Error(err)
		return nil, err
	}
	r.closers = append(r.closers, closeStore)
	return store, nil
}

func (r *runner) runLoad(mode, quarter string) error {
	source, err := newSource(r.logger, r.settings)
	if err != nil {
		return err
	}
	store, err := r.store()
	if err != nil {
		return err
	}

	cfg := engine.Config{
		StagingFormat: r.settings.Processing.StagingFormat,
		ChunkSize:     r.settings.Processing.ChunkSize,
		StagingRoot:   r.settings.Processing.StagingDir,
	}
	start := time.Now()
	result, err := engine.New(r.logger, store, source, cfg).Run(r.ctx, mode, quarter)
	if err != nil {
		return errors.New(describe(err))
	}
	if result == nil {
		fmt.Fprintln(r.app.Writer, "Nothing to load, the database is up to date")
		return nil
	}
	if !result.Passed {
		return errors.Errorf("Load committed but failed verification: %s", result.Message)
	}
	fmt.Fprintf(r.app.Writer, "Load completed in %s: %s\n", time.Since(start).Round(time.Second), result.Message)
	return nil
}

// describe turns the typed failures into the message shown to the operator.
func describe(err error) string {
	var (
		modeErr    *faerserrors.UnsupportedModeError
		periodErr  *faerserrors.InvalidPeriodError
		backendErr *faerserrors.UnsupportedBackendError
		dqErr      *faerserrors.DataQualityError
		dlErr      *faerserrors.DownloadError
		schemaErr  *faerserrors.SchemaMismatchError
	)
	switch {
	case errors.As(err, &modeErr), errors.As(err, &periodErr), errors.As(err, &backendErr):
		return fmt.Sprintf("Unsupported configuration: %s", err)
	case errors.As(err, &dqErr):
		return fmt.Sprintf("Load committed but failed verification: %s", dqErr.Msg)
	case errors.As(err, &dlErr):
		return fmt.Sprintf("Load rolled back: %s", err)
	case errors.As(err, &schemaErr):
		return fmt.Sprintf("Load rolled back, source layout changed: %s", err)
	default:
		return fmt.Sprintf("Load failed: %s", err)
	}
}

func (r *runner) download(quarter string) error {
	source, err := newSource(r.logger, r.settings)
	if err != nil {
		return err
	}
	var p models.Period
	if quarter != "" {
		if p, err = models.ParsePeriod(quarter); err != nil {
			return err
		}
	} else if p, err = source.LatestPeriod(r.ctx); err != nil {
		return err
	}

	path, checksum, err := source.Fetch(r.ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.app.Writer, "%s\t%s\n", path, checksum)
	return nil
}

func (r *runner) initSchema(drop bool) error {
	store, err := r.store()
	if err != nil {
		return err
	}
	if err := store.InitializeSchema(r.ctx, models.Tables(), drop); err != nil {
		return err
	}
	fmt.Fprintln(r.app.Writer, "Database schema initialized")
	return nil
}

func (r *runner) verify() error {
	store, err := r.store()
	if err != nil {
		return err
	}
	passed, msg, err := store.ConsistencyCheck(r.ctx)
	if err != nil {
		return errors.New(describe(err))
	}
	if !passed {
		return errors.New(msg)
	}
	fmt.Fprintln(r.app.Writer, msg)
	return nil
}

func (r *runner) history(limit int) error {
	store, err := r.store()
	if err != nil {
		return err
	}
	runs, err := store.RecentRuns(r.ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(r.app.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOAD ID\tQUARTER\tTYPE\tSTATUS\tSTARTED\tLOADED\tUPDATED\tDELETED\tERROR")
	for _, run := range runs {
		errMsg := ""
		if run.ErrorMessage != nil {
			errMsg = *run.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n", run.LoadID, run.Period, run.LoadType,
			run.Status, run.Start.Format(time.RFC3339), run.RowsLoaded, run.RowsUpdated, run.RowsDeleted, errMsg)
	}
	return w.Flush()
}

func (r *runner) cleanupStaging(threshold int) error {
	if threshold < 0 {
		return errors.Errorf("threshold must not be negative, got %d", threshold)
	}
	root := r.settings.Processing.StagingDir
	if root == "" {
		root = os.TempDir()
	}
	removed, err := utils.SweepStagingDirectories(r.logger, root, time.Duration(threshold)*time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.app.Writer, "Removed %d staging directories from %s\n", removed, root)
	return nil
}

func openPostgresStore(ctx context.Context, logger logrus.FieldLogger, cfg database.Config) (models.Store, func(), error) {
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(logger, pool), pool.Close, nil
}

func newDownloadSource(logger logrus.FieldLogger, settings *conf.Settings) (engine.Source, error) {
	d := settings.Downloader
	cfg := download.Config{
		Dir:        d.DownloadDir,
		Retries:    d.Retries,
		Timeout:    d.Timeout,
		BaseURL:    d.BaseURL,
		ListingURL: d.ListingURL,
	}
	switch strings.ToLower(d.Source) {
	case "", "http", "https":
		return download.NewHTTPSource(logger, cfg), nil
	case "s3":
		if d.S3Bucket == "" {
			return nil, errors.New("downloader.s3_bucket is required for the s3 source")
		}
		uri := fmt.Sprintf("s3://%s/%s", d.S3Bucket, strings.TrimLeft(d.S3Prefix, "/"))
		return download.NewS3Source(logger, cfg, uri, d.S3Endpoint, d.AssumeRoleArn)
	default:
		return nil, errors.Errorf("unsupported download source %s", d.Source)
	}
}
