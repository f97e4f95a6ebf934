package faersaws

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
)

const defaultRegion = "us-east-1"

// Makes these easily mockable for testing
var newSession = session.NewSession

// NewSession returns an AWS session, assuming roleArn when one is given.
// A custom endpoint switches S3 to path style addressing.
func NewSession(roleArn, endpoint, region string) (*session.Session, error) {
	if region == "" {
		region = defaultRegion
	}
	config := aws.Config{
		Region: aws.String(region),
	}

	if endpoint != "" {
		config.S3ForcePathStyle = aws.Bool(true)
		config.Endpoint = aws.String(endpoint)
	}

	if roleArn != "" {
		base, err := newSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, err
		}
		config.Credentials = stscreds.NewCredentials(base, roleArn)
	}

	return newSession(&config)
}

// ParseS3Uri splits s3://bucket/prefix into its bucket and key prefix.
func ParseS3Uri(str string) (bucket string, key string) {
	workingString := strings.TrimPrefix(str, "s3://")
	resultArr := strings.SplitN(workingString, "/", 2)

	if len(resultArr) == 1 {
		return resultArr[0], ""
	}

	return resultArr[0], resultArr[1]
}
