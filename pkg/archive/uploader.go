package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader ships local files into a Client's bucket under a fixed key
// prefix, one PutObject per file.
type Uploader struct {
	client *Client
	prefix string
}

// NewUploader constructs an Uploader. prefix is prepended to every
// object key, typically the emitting host or environment name.
func NewUploader(client *Client, prefix string) *Uploader {
	return &Uploader{client: client, prefix: prefix}
}

// UploadFile reads path and uploads it under key `prefix/basename`.
// Retries are handled by the underlying SDK client's retryer.
func (u *Uploader) UploadFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("archive: read %s: %w", path, err)
	}

	key := filepath.Base(path)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}

	_, err = u.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s to s3://%s/%s: %w", path, u.client.bucket, key, err)
	}
	return nil
}
