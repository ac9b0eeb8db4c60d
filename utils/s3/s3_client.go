/*
SPDX-FileCopyrightText: Copyright (c) 2026 Together Coding. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package s3 provides the object store client used for template archives,
// project archives and bulk (oversized) file contents.
package s3

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Together-Coding/IDE-Server/utils"
)

// ErrObjectMissing is returned by Get when the requested key does not exist.
var ErrObjectMissing = errors.New("object not found")

// S3Config holds object store connection configuration. Endpoint and the
// static credential pair are optional; when empty, the default AWS chain
// and endpoint resolution apply (Endpoint is set for MinIO-style dev setups).
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Client handles object store operations against a single bucket
type S3Client struct {
	client *awss3.Client
	bucket string
	logger *slog.Logger
}

// NewS3Client creates a new object store client and verifies bucket access
func NewS3Client(ctx context.Context, config S3Config, logger *slog.Logger) (*S3Client, error) {
	if config.Bucket == "" {
		return nil, errors.New("object bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.UsePathStyle
	})

	// Head the bucket to verify access
	headCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.HeadBucket(headCtx, &awss3.HeadBucketInput{
		Bucket: aws.String(config.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", config.Bucket, err)
	}

	logger.Info("object store client connected successfully",
		slog.String("bucket", config.Bucket),
		slog.String("region", config.Region),
	)

	return &S3Client{
		client: client,
		bucket: config.Bucket,
		logger: logger,
	}, nil
}

// refineKey normalizes an object key: bucket keys never start with "/"
func refineKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

// Get downloads the object stored under key. Returns ErrObjectMissing when
// the key does not exist.
func (c *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(refineKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectMissing, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// Put uploads body under key, overwriting any previous object
func (c *S3Client) Put(ctx context.Context, key string, body []byte) error {
	_, err := c.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(refineKey(key)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is stored under key
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(refineKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object stored under key. Deleting a missing key is not
// an error.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(refineKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Bucket returns the configured bucket name
func (c *S3Client) Bucket() string {
	return c.bucket
}

// S3FlagPointers holds pointers to flag values for object store configuration
type S3FlagPointers struct {
	bucket       *string
	region       *string
	endpoint     *string
	accessKey    *string
	secretKey    *string
	usePathStyle *bool
}

// RegisterS3Flags registers object-store-related command-line flags
// Returns an S3FlagPointers that should be converted to S3Config
// after flag.Parse() is called
func RegisterS3Flags() *S3FlagPointers {
	return &S3FlagPointers{
		bucket: flag.String("object-bucket",
			utils.GetEnv("OBJECT_BUCKET", ""),
			"Object store bucket for templates, project archives and bulk files"),
		region: flag.String("object-region",
			utils.GetEnv("OBJECT_REGION", "ap-northeast-2"),
			"Object store region"),
		endpoint: flag.String("object-endpoint",
			utils.GetEnv("OBJECT_ENDPOINT", ""),
			"Object store endpoint override (MinIO-style deployments)"),
		accessKey: flag.String("object-access-key",
			utils.GetEnvOrConfig("OBJECT_ACCESS_KEY", "object_access_key", ""),
			"Static access key; default AWS chain when empty"),
		secretKey: flag.String("object-secret-key",
			utils.GetEnvOrConfig("OBJECT_SECRET_KEY", "object_secret_key", ""),
			"Static secret key; default AWS chain when empty"),
		usePathStyle: flag.Bool("object-path-style",
			utils.GetEnvBool("OBJECT_PATH_STYLE", false),
			"Use path-style object URLs (required by MinIO)"),
	}
}

// ToS3Config converts flag pointers to S3Config
// This should be called after flag.Parse()
func (s *S3FlagPointers) ToS3Config() S3Config {
	return S3Config{
		Bucket:       *s.bucket,
		Region:       *s.region,
		Endpoint:     *s.endpoint,
		AccessKey:    *s.accessKey,
		SecretKey:    *s.secretKey,
		UsePathStyle: *s.usePathStyle,
	}
}
