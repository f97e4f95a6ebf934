package log

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CMSgov/faers-app/conf"
	"github.com/CMSgov/faers-app/faers/constants"
)

const localEnvironment = "local"

// Setup builds the application logger from the settings. Local runs get
// colored text on stdout; every other environment logs JSON.
func Setup(settings *conf.Settings, application string) (logrus.FieldLogger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %s", settings.LogLevel)
	}
	logger.SetLevel(level)

	if settings.Environment == "" || settings.Environment == localEnvironment {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
		logger.SetOutput(colorable.NewColorableStdout())
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return Logger(logger, settings.LogFile, application, settings.Environment), nil
}

func Logger(logger *logrus.Logger, outputFile string,
	application, environment string) logrus.FieldLogger {

	if outputFile != "" {
		if file, err := os.OpenFile(filepath.Clean(outputFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			logger.SetOutput(file)
		} else {
			logger.Infof("Failed to open output file %s. Will use stderr. %s",
				outputFile, err.Error())
		}
	}

	return logger.WithFields(logrus.Fields{
		"application": application,
		"environment": environment,
		"source_app":  "faers",
		"version":     constants.Version})
}
