package conf

/*
   This is a package that wraps viper for the FAERS loader. Settings come from
   three places, later ones winning:

   1. Defaults registered in setDefaults.
   2. A YAML file (config.yaml in the working directory, or CONFIG_FILE), with
      an optional profile sub-tree under "profiles" merged over the top level.
   3. Environment variables named FAERS_<SECTION>__<KEY>, e.g. FAERS_DB__HOST.

   The settings are read once at startup and are immutable afterwards.
*/

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/CMSgov/faers-app/faers/constants"
	"github.com/CMSgov/faers-app/faers/database"
	"github.com/CMSgov/faers-app/faers/metrics"
	"github.com/CMSgov/faers-app/faers/models"
)

const (
	envPrefix         = "FAERS"
	defaultConfigFile = "config.yaml"
	profilesKey       = "profiles"
)

type Settings struct {
	DB          database.Config    `mapstructure:"db"`
	Downloader  DownloaderSettings `mapstructure:"downloader"`
	Processing  ProcessingSettings `mapstructure:"processing"`
	LogLevel    string             `mapstructure:"log_level"`
	LogFile     string             `mapstructure:"log_file"`
	Environment string             `mapstructure:"environment"`
	NewRelic    metrics.Config     `mapstructure:"new_relic"`
}

type DownloaderSettings struct {
	DownloadDir string        `mapstructure:"download_dir"`
	Retries     int           `mapstructure:"retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Source is either "http" or "s3".
	Source        string `mapstructure:"source"`
	BaseURL       string `mapstructure:"base_url"`
	ListingURL    string `mapstructure:"listing_url"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Prefix      string `mapstructure:"s3_prefix"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	AssumeRoleArn string `mapstructure:"assume_role_arn"`
}

type ProcessingSettings struct {
	ChunkSize     int                  `mapstructure:"chunk_size"`
	StagingFormat models.StagingFormat `mapstructure:"staging_format"`
	StagingDir    string               `mapstructure:"staging_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.type", constants.BackendPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.dbname", "faers")
	v.SetDefault("db.sslmode", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.url", "")

	v.SetDefault("downloader.download_dir", "downloads")
	v.SetDefault("downloader.retries", 3)
	v.SetDefault("downloader.timeout", "10m")
	v.SetDefault("downloader.source", "http")
	v.SetDefault("downloader.base_url", "")
	v.SetDefault("downloader.listing_url", "")
	v.SetDefault("downloader.s3_bucket", "")
	v.SetDefault("downloader.s3_prefix", "")
	v.SetDefault("downloader.s3_endpoint", "")
	v.SetDefault("downloader.assume_role_arn", "")

	v.SetDefault("processing.chunk_size", constants.DefaultChunkSize)
	v.SetDefault("processing.staging_format", string(models.FormatParquet))
	v.SetDefault("processing.staging_dir", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("environment", "local")
	v.SetDefault("new_relic.app_name", "")
	v.SetDefault("new_relic.license_key", "")
}

// Load reads the settings. An empty file means CONFIG_FILE, then config.yaml
// when present. A named file or profile that cannot be found is an error.
func Load(profile, file string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if file == "" {
		file = GetEnv("CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read configuration file %s", file)
		}
	} else if _, err := os.Stat(defaultConfigFile); err == nil {
		v.SetConfigFile(defaultConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read configuration file %s", defaultConfigFile)
		}
	}

	if profile != "" {
		sub := v.Sub(profilesKey + "." + profile)
		if sub == nil {
			return nil, errors.Errorf("configuration profile %s not found", profile)
		}
		if err := v.MergeConfigMap(sub.AllSettings()); err != nil {
			return nil, errors.Wrapf(err, "failed to apply profile %s", profile)
		}
	}

	var s Settings
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stagingFormatHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&s, hooks); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return &s, nil
}

func stagingFormatHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(models.StagingFormat("")) {
		return data, nil
	}
	return models.ParseStagingFormat(data.(string))
}

// GetEnv retrieves an environment variable, "" when it is not set.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// LookupEnv acts like os.LookupEnv.
func LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// SetEnv sets an environment variable. It should only be used in tests: the
// protect parameter ensures developers knowingly use it in that scope.
func SetEnv(protect *testing.T, key string, value string) error {
	return os.Setenv(key, value)
}

// UnsetEnv removes an environment variable. Like SetEnv, it is for tests.
func UnsetEnv(protect *testing.T, key string) error {
	return os.Unsetenv(key)
}
