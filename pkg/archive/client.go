// Package archive implements the periodic S3 archive uploader named
// but left out of the core engine's scope: it drains a directory of
// finished rotated log files and ships them to an S3-compatible
// bucket, deleting the local copy once the upload is acknowledged.
package archive

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultRegion = "us-east-1"

	dialTimeout            = 10 * time.Second
	responseHeaderTimeout  = 30 * time.Second
	idleConnTimeout        = 90 * time.Second
	tlsHandshakeTimeout    = 10 * time.Second
	expectContinueTimeout  = 1 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint         string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	MaxRetryAttempts int
	MaxBackoffDelay  time.Duration
}

// Client wraps an S3-compatible object store connection.
type Client struct {
	s3     *s3.Client
	bucket string
}

// NewClient builds a Client from cfg, applying connection timeouts so a
// wedged endpoint cannot hang the upload goroutine indefinitely.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("archive: access key ID and secret access key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: dialTimeout}).DialContext,
			ResponseHeaderTimeout: responseHeaderTimeout,
			IdleConnTimeout:       idleConnTimeout,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ExpectContinueTimeout: expectContinueTimeout,
		},
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
		config.WithRegion(defaultRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	}
	if cfg.MaxRetryAttempts > 0 || cfg.MaxBackoffDelay > 0 {
		optFns = append(optFns, config.WithRetryer(func() aws.Retryer {
			var r aws.Retryer = retry.NewStandard()
			if cfg.MaxRetryAttempts > 0 {
				r = retry.AddWithMaxAttempts(r, cfg.MaxRetryAttempts)
			}
			if cfg.MaxBackoffDelay > 0 {
				r = retry.AddWithMaxBackoffDelay(r, cfg.MaxBackoffDelay)
			}
			return r
		}))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Client{s3: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}
