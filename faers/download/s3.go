package download

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	faersaws "github.com/CMSgov/faers-app/faers/aws"
	faerserrors "github.com/CMSgov/faers-app/faers/errors"
	"github.com/CMSgov/faers-app/faers/models"
)

// S3Source reads quarterly releases from a mirror bucket laid out as
// <prefix>/faers_ascii_YYYYqN.zip.
type S3Source struct {
	logger logrus.FieldLogger
	svc    s3iface.S3API
	bucket string
	prefix string
	cfg    Config
}

// NewS3Source connects to the mirror at uri (s3://bucket/prefix).
func NewS3Source(logger logrus.FieldLogger, cfg Config, uri, endpoint, roleArn string) (*S3Source, error) {
	sess, err := faersaws.NewSession(roleArn, endpoint, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 session")
	}
	bucket, prefix := faersaws.ParseS3Uri(uri)
	return NewS3SourceWithClient(logger, cfg, s3.New(sess), bucket, prefix), nil
}

func NewS3SourceWithClient(logger logrus.FieldLogger, cfg Config, svc s3iface.S3API, bucket, prefix string) *S3Source {
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	return &S3Source{logger: logger, svc: svc, bucket: bucket, prefix: prefix, cfg: cfg}
}

func (s *S3Source) LatestPeriod(ctx context.Context) (models.Period, error) {
	s.logger.Infof("Listing objects in bucket %s, prefix %s", s.bucket, s.prefix)

	var latest models.Period
	found := false
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if p, ok := LatestIn(path.Base(aws.StringValue(obj.Key))); ok && (!found || p.Compare(latest) > 0) {
				latest, found = p, true
			}
		}
		return true
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to list objects in S3 bucket %s, prefix %s", s.bucket, s.prefix)
		s.logger.Error(err)
		return models.Period{}, err
	}
	if !found {
		return models.Period{}, errors.Errorf("no quarterly archives in s3://%s/%s", s.bucket, s.prefix)
	}
	return latest, nil
}

func (s *S3Source) Fetch(ctx context.Context, p models.Period) (string, string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0750); err != nil {
		return "", "", &faerserrors.DownloadError{Period: p.String(), Err: err}
	}
	key := path.Join(s.prefix, ArchiveName(p))
	dest := filepath.Join(s.cfg.Dir, ArchiveName(p))
	downloader := s3manager.NewDownloaderWithClient(s.svc)

	attempt := func() error {
		f, err := os.Create(filepath.Clean(dest))
		if err != nil {
			return err
		}
		n, err := downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		f.Close()
		if err != nil {
			os.Remove(dest)
			return errors.Wrapf(err, "failed to download bucket %s, key %s", s.bucket, key)
		}
		s.logger.Infof("file downloaded: size=%d", n)
		if err := VerifyArchive(dest); err != nil {
			os.Remove(dest)
			return err
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warnf("Download of s3://%s/%s failed, retrying in %s: %s", s.bucket, key, wait, err)
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
	return dest, checksum, nil
}
