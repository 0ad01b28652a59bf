package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client uploads spool files as objects. The remote path is the object key.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client builds a client that uploads to bucket using cfg.
func NewS3Client(cfg aws.Config, bucket string, optFns ...func(*s3.Options)) *S3Client {
	return &S3Client{
		client: s3.NewFromConfig(cfg, optFns...),
		bucket: bucket,
	}
}

// CopyLocalToRemote uploads localPath to s3://bucket/remotePath.
func (c *S3Client) CopyLocalToRemote(ctx context.Context, localPath string, remotePath string) error {
	key := strings.TrimLeft(remotePath, "/")
	if key == "" {
		return fmt.Errorf("remote path is required")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// Close is a no-op: the SDK client holds no dedicated connection.
func (c *S3Client) Close() error {
	return nil
}
