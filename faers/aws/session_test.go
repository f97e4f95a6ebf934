package faersaws

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/stretchr/testify/assert"
)

func TestParseS3Uri(t *testing.T) {
	tests := []struct {
		uri, bucket, key string
	}{
		{"s3://faers-mirror/quarterly/", "faers-mirror", "quarterly/"},
		{"s3://faers-mirror", "faers-mirror", ""},
		{"faers-mirror/a/b.zip", "faers-mirror", "a/b.zip"},
	}
	for _, tt := range tests {
		bucket, key := ParseS3Uri(tt.uri)
		assert.Equal(t, tt.bucket, bucket)
		assert.Equal(t, tt.key, key)
	}
}

func TestNewSession(t *testing.T) {
	orig := newSession
	defer func() { newSession = orig }()

	var configs []*aws.Config
	newSession = func(cfgs ...*aws.Config) (*session.Session, error) {
		configs = append(configs, cfgs...)
		return orig(cfgs...)
	}

	sess, err := NewSession("", "http://localhost:4566", "")
	assert.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Len(t, configs, 1)
	assert.Equal(t, "us-east-1", *configs[0].Region)
	assert.True(t, *configs[0].S3ForcePathStyle)
	assert.Equal(t, "http://localhost:4566", *configs[0].Endpoint)

	configs = nil
	_, err = NewSession("arn:aws:iam::123456789012:role/faers-loader", "", "us-west-2")
	assert.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.NotNil(t, configs[1].Credentials)
	assert.Nil(t, configs[1].S3ForcePathStyle)
}
