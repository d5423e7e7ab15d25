// Package s3 provides an Amazon S3 archive store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rbaliyan/mailspool/archive"
)

const scheme = "s3://"

// Store implements archive.Store on S3. Uploads go through the transfer
// manager, so large spool files are sent as multipart uploads.
type Store struct {
	client *s3.Client
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ archive.Store = (*Store)(nil)

// New creates an S3 store. ctx is used while loading AWS configuration.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if err := o.validate(); err != nil {
		return nil, err
	}

	client := o.client
	if client == nil {
		awsCfg, err := loadAWSConfig(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if o.endpoint != "" {
				so.BaseEndpoint = aws.String(o.endpoint)
				so.UsePathStyle = o.pathStyle
			}
		})
	}

	return &Store{
		client: client,
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// loadAWSConfig applies the configured credential source, or leaves the
// default chain in place when none is set.
func loadAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.static != nil:
		creds := credentials.NewStaticCredentialsProvider(o.static.accessKey, o.static.secretKey, o.static.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.role != nil:
		base, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		optFns = append(optFns, config.WithCredentialsProvider(assumeRoleProvider(base, *o.role)))

	case o.provider != nil:
		optFns = append(optFns, config.WithCredentialsProvider(o.provider))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Upload stores content under key and returns an s3://bucket/key URI.
func (s *Store) Upload(ctx context.Context, key, contentType string, content io.Reader) (string, error) {
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	_, err := s.tm.UploadObject(ctx, &transfermanager.UploadObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	s.logger.Debug("archived to s3", "bucket", s.bucket, "key", key)
	return scheme + s.bucket + "/" + key, nil
}

// Load returns a reader for the object at uri.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, uri)
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object at uri.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object from s3: %w", err)
	}

	s.logger.Debug("deleted archived object from s3", "bucket", bucket, "key", key)
	return nil
}

// parseURI splits an s3://bucket/key URI.
func parseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", archive.ErrInvalidURI, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w (no key): %s", archive.ErrInvalidURI, uri)
	}
	return bucket, key, nil
}
