package supabase

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cuido-tech/cuido-bff/core/logger"
)

// S3Configuration holds the settings for the S3-compatible storage driver.
// Endpoint points at the platform's S3 protocol endpoint.
type S3Configuration struct {
	Endpoint  string `env:"S3_ENDPOINT,default="`
	Region    string `env:"S3_REGION,default=us-east-1"`
	AccessID  string `env:"S3_ACCESS_KEY_ID,default="`
	AccessKey string `env:"S3_SECRET_ACCESS_KEY,default="`
	PublicURL string `env:"S3_PUBLIC_URL,default="`
}

// S3Storage is the StorageDriver implementation for S3-compatible endpoints
type S3Storage struct {
	config    aws.Config
	endpoint  string
	publicURL string
}

// NewS3Storage returns a new S3Storage
func NewS3Storage(s3Config S3Configuration) (*S3Storage, error) {
	if s3Config.Endpoint == "" {
		return nil, fmt.Errorf("S3_ENDPOINT must not be empty")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: s3Config.Endpoint, HostnameImmutable: true}, nil
		})

	config, err := awsconfig.LoadDefaultConfig(
		context.TODO(),
		awsconfig.WithRegion(s3Config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("S3 storage enabled")
	s := S3Storage{config, s3Config.Endpoint, s3Config.PublicURL}
	return &s, nil
}

func (s *S3Storage) client() *s3.Client {
	return s3.NewFromConfig(s.config, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

// Upload stores data into a new object under bucket/path
func (s *S3Storage) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := s.client().PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload object, %v", err)
	}
	return nil
}

// PublicURL returns the public download URL for bucket/path
func (s *S3Storage) PublicURL(bucket, path string) string {
	base := s.publicURL
	if base == "" {
		base = s.endpoint
	}
	return base + "/" + bucket + "/" + path
}

// CreateSignedURL returns a pre-signed GET URL valid until expireIn is passed
func (s *S3Storage) CreateSignedURL(ctx context.Context, bucket, path string, expireIn time.Duration) (string, error) {
	client := s3.NewPresignClient(s.client())
	resp, err := client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(expireIn))
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}
