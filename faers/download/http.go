package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
)

const (
	DefaultBaseURL    = "https://fis.fda.gov/content/Exports"
	DefaultListingURL = "https://fis.fda.gov/extensions/FPD-QDE-FAERS/FPD-QDE-FAERS.html"

	maxListingSize = 10 * 1024 * 1024
)

type Config struct {
	Dir        string
	Retries    int
	Timeout    time.Duration
	BaseURL    string
	ListingURL string
	// RetryWait is the first delay between attempts. Later delays grow exponentially.
	RetryWait time.Duration
}

// HTTPSource downloads quarterly releases from the FDA web site.
type HTTPSource struct {
	logger logrus.FieldLogger
	client *retryablehttp.Client
	cfg    Config
}

func NewHTTPSource(logger logrus.FieldLogger, cfg Config) *HTTPSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ListingURL == "" {
		cfg.ListingURL = DefaultListingURL
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	// Retries belong to the backoff loop in retry, so each request is sent once.
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.RetryWaitMin = cfg.RetryWait
	client.RetryWaitMax = 30 * cfg.RetryWait
	client.Logger = logger
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return &HTTPSource{logger: logger, client: client, cfg: cfg}
}

// LatestPeriod scrapes the release listing for the newest archive.
func (s *HTTPSource) LatestPeriod(ctx context.Context) (models.Period, error) {
	var body []byte
	attempt := func() (err error) {
		body, err = s.listing(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warnf("Release listing %s unavailable, retrying in %s: %s", s.cfg.ListingURL, wait, err)
	}
	if err := retry(ctx, s.cfg, attempt, notify); err != nil {
		err = errors.Wrapf(err, "could not fetch release listing %s", s.cfg.ListingURL)
		s.logger.Error(err)
		return models.Period{}, err
	}

	latest, ok := LatestIn(string(body))
	if !ok {
		return models.Period{}, errors.Errorf("no quarterly archives listed at %s", s.cfg.ListingURL)
	}
	s.logger.Infof("Latest available period is %s", latest)
	return latest, nil
}

// Fetch downloads and verifies the archive of a period, returning its local
// path and SHA-256 checksum. Corrupt downloads are removed and retried.
func (s *HTTPSource) Fetch(ctx context.Context, p models.Period) (string, string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0750); err != nil {
		return "", "", &faerserrors.DownloadError{Period: p.String(), Err: err}
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/" + ArchiveName(p)
	dest := filepath.Join(s.cfg.Dir, ArchiveName(p))

	attempt := func() error {
		if err := s.download(ctx, url, dest); err != nil {
			return err
		}
		if err := VerifyArchive(dest); err != nil {
			os.Remove(dest)
			return err
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warnf("Download of %s failed, retrying in %s: %s", url, wait, err)
	}

	if err := retry(ctx, s.cfg, attempt, notify); err != nil {
		err = &faerserrors.DownloadError{Period: p.String(), Err: err}
		s.logger.Error(err)
		return "", "", err
	}

	checksum, err := Checksum(dest)
	if err != nil {
		return "", "", &faerserrors.DownloadError{Period: p.String(), Err: err}
	}
	s.logger.WithFields(logrus.Fields{"quarter": p.String(), "sha256": checksum}).Infof("Downloaded %s", dest)
	return dest, checksum, nil
}

func (s *HTTPSource) listing(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, s.cfg.ListingURL, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrap(err, "could not build listing request"))
	}
	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(errors.Errorf("release listing returned %s", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingSize))
	if err != nil {
		return nil, errors.Wrap(err, "could not read release listing")
	}
	return body, nil
}

func (s *HTTPSource) download(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "could not build download request"))
	}
	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "could not download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return backoff.Permanent(errors.Errorf("%s does not exist", url))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}

	return writeFile(dest, resp.Body)
}

// writeFile streams body to a temporary file next to dest and renames it
// into place once complete.
func writeFile(dest string, body io.Reader) error {
	part := dest + ".part"
	f, err := os.Create(filepath.Clean(part))
	if err != nil {
		return backoff.Permanent(errors.Wrapf(err, "could not create %s", part))
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(part)
		return errors.Wrapf(err, "download to %s interrupted", part)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return errors.Wrapf(err, "could not close %s", part)
	}
	return os.Rename(part, dest)
}

func retry(ctx context.Context, cfg Config, attempt backoff.Operation, notify backoff.Notify) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryWait
	b.MaxElapsedTime = 0
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx), notify)
}
