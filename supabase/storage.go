// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package supabase

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/cuido-tech/cuido-bff/core"
)

// StorageDriver is the interface to the object store. There are two
// implementations: the platform's own storage HTTP API, and an S3-compatible
// endpoint.
type StorageDriver interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) error
	PublicURL(bucket, path string) string
	CreateSignedURL(ctx context.Context, bucket, path string, expireIn time.Duration) (string, error)
}

// StorageDriverType represents the different types of storage drivers
type StorageDriverType string

// DriverTypeSupabase is the platform storage HTTP API
const DriverTypeSupabase StorageDriverType = "supabase"

// DriverTypeAWSS3 is the S3-compatible implementation
const DriverTypeAWSS3 StorageDriverType = "s3"

// HTTPStorage talks to the platform storage API with service credentials
type HTTPStorage struct {
	client Client
}

// NewHTTPStorage returns the default storage driver
func NewHTTPStorage(client Client) *HTTPStorage {
	return &HTTPStorage{client: client}
}

// Upload stores data under bucket/path. Existing objects are not overwritten.
func (s *HTTPStorage) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	c := s.client.WithContext(ctx).AsService()
	rawURL := c.config.BaseURL + "/storage/v1/object/" + bucket + "/" + strings.TrimPrefix(path, "/")
	header := map[string]string{"x-upsert": "false"}
	if contentType != "" {
		header["Content-Type"] = contentType
	}
	status, resBody, err := c.do(http.MethodPost, rawURL, header, data)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	return nil
}

// PublicURL returns the public download URL for bucket/path
func (s *HTTPStorage) PublicURL(bucket, path string) string {
	return s.client.config.BaseURL + "/storage/v1/object/public/" + bucket + "/" + strings.TrimPrefix(path, "/")
}

// CreateSignedURL issues a time-limited download URL for bucket/path
func (s *HTTPStorage) CreateSignedURL(ctx context.Context, bucket, path string, expireIn time.Duration) (string, error) {
	c := s.client.WithContext(ctx).AsService()
	rawURL := c.config.BaseURL + "/storage/v1/object/sign/" + bucket + "/" + strings.TrimPrefix(path, "/")
	body, _ := json.Marshal(map[string]int{"expiresIn": int(expireIn.Seconds())})
	status, resBody, err := c.do(http.MethodPost, rawURL, nil, body)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(resBody, &signed); err != nil {
		return "", core.Errorf(core.KindInternal, "decode signed url: %v", err)
	}
	return c.config.BaseURL + "/storage/v1" + signed.SignedURL, nil
}
