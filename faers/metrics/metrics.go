package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/faers/utils"
)

// Timer provides methods for timing methods.
// Typical Usage scenario:
//
//	timer := metrics.GetTimer(logger, cfg)
//	defer timer.Close()
//	ctx := metrics.NewContext(ctx, timer)
//	ctx, close := metrics.NewParent(ctx, "FAERS load")
//	defer close()
//	closeDownload := metrics.NewChild(ctx, "download")
//	// download
//	closeDownload()
type Timer interface {
	// new creates a new timer and embeds it into the returned context.
	new(parentCtx context.Context, name string) (ctx context.Context, close func())

	// newChild creates a timer (child) from the parent via the supplied context.
	newChild(parentCtx context.Context, name string) (close func())

	// Close flushes any pending metrics.
	Close()
}

type Config struct {
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// To avoid collisions with other keys from other packages, we'll use a custom
// un-exported type for our context key.
type key int

const timerKey key = 0

// NewContext returns a new Context that carries the provided Timer
func NewContext(ctx context.Context, t Timer) context.Context {
	return context.WithValue(ctx, timerKey, t)
}

// NewParent creates a parent timer and embeds it into the returned context.
func NewParent(ctx context.Context, name string) (context.Context, func()) {
	t := fromContext(ctx)
	return t.new(ctx, name)
}

// NewChild creates a child timer from the parent found within the supplied context
func NewChild(ctx context.Context, name string) func() {
	t := fromContext(ctx)
	return t.newChild(ctx, name)
}

var defaultTimer = &noopTimer{}

// fromContext returns the Timer associated with the context.
// If no Timer is found on the context, a default no-op timer is returned.
func fromContext(ctx context.Context) Timer {
	t, ok := ctx.Value(timerKey).(Timer)
	if !ok {
		return defaultTimer
	}
	return t
}

// GetTimer returns a New Relic backed timer, or a no-op timer when no license
// is configured or the agent cannot connect.
func GetTimer(logger logrus.FieldLogger, cfg Config, environment string) Timer {
	if cfg.LicenseKey == "" {
		logger.Debug("No New Relic license configured. Using no-op timer.")
		return &noopTimer{}
	}

	name := cfg.AppName
	if name == "" {
		if environment == "" {
			environment = "local"
		}
		name = fmt.Sprintf("FAERS-%s", environment)
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(name),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigEnabled(true),
		newrelic.ConfigLogger(agentLogger(logger)),
		func(c *newrelic.Config) {
			c.HighSecurity = true
		},
	)
	if err != nil {
		logger.Warnf("Failed to instantiate New Relic application. Default to no-op timer. %s", err.Error())
		return &noopTimer{}
	}

	timeout := time.Duration(utils.GetEnvInt("NEW_RELIC_CONNECTION_TIMEOUT_SECONDS", 30)) * time.Second
	if err = app.WaitForConnection(timeout); err != nil {
		logger.Warnf("Failed to establish connection to New Relic server in %s. Default to no-op timer.", timeout)
		return &noopTimer{}
	}

	logger.Info("Using New Relic backed timer.")
	return &timer{nr: app, logger: logger}
}

// agentLogger routes the agent's own log output through the loader's logger.
func agentLogger(logger logrus.FieldLogger) newrelic.Logger {
	switch l := logger.(type) {
	case *logrus.Logger:
		return nrlogrus.Transform(l)
	case *logrus.Entry:
		return nrlogrus.Transform(l.Logger)
	default:
		return nrlogrus.StandardLogger()
	}
}

// validates that timer implements the interface
var _ Timer = &timer{}

type timer struct {
	nr     *newrelic.Application
	logger logrus.FieldLogger
}

func (t *timer) new(parentCtx context.Context, name string) (ctx context.Context, close func()) {
	txn := t.nr.StartTransaction(name)
	ctx = newrelic.NewContext(parentCtx, txn)
	return ctx, func() { txn.End() }
}

func (t *timer) newChild(parentCtx context.Context, name string) (close func()) {
	txn := newrelic.FromContext(parentCtx)
	if txn == nil {
		t.logger.Warn("No transaction found. Cannot create child.")
		return noop
	}
	segment := txn.StartSegment(name)
	return func() { segment.End() }
}

func (t *timer) Close() {
	t.nr.Shutdown(30 * time.Second)
}

// validates that noopTimer implements the interface
var _ Timer = &noopTimer{}

type noopTimer struct {
}

// new keeps the parent context so cancellation still reaches the caller.
func (t *noopTimer) new(parentCtx context.Context, name string) (ctx context.Context, close func()) {
	return parentCtx, noop
}

func (t *noopTimer) newChild(parentCtx context.Context, name string) (close func()) {
	return noop
}

func (t *noopTimer) Close() {
}

func noop() {
}
