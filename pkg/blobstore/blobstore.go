// Package blobstore implements the BlobStore storage destination (C5) on
// top of aws-sdk-go-v2, grounded on jordigilh-kubernaut's S3 usage pattern
// (config.LoadDefaultConfig + s3.NewFromConfig).
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Client struct {
	s3     *s3.Client
	bucket string
}

func New(ctx context.Context, region, bucket, endpointURL string) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		})
	}

	return &Client{s3: s3.NewFromConfig(cfg, s3Opts...), bucket: bucket}, nil
}

// Key builds the {prefix}/{YYYY/MM/DD/HH}/{event_id}.json layout from
// spec §4.4.
func Key(prefix, eventID string, ts time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s.json",
		prefix, ts.Year(), ts.Month(), ts.Day(), ts.Hour(), eventID)
}

func (c *Client) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("blobstore: put object %q: %w", key, err)
	}
	return nil
}

// HealthCheck performs a cheap HeadBucket to confirm the bucket is
// reachable and the credentials are valid.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("blobstore: head bucket: %w", err)
	}
	return nil
}
