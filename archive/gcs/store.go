// Package gcs provides a Google Cloud Storage archive store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/rbaliyan/mailspool/archive"
)

const (
	scheme     = "gs://"
	storeScope = "https://www.googleapis.com/auth/devstorage.read_write"
)

// Store implements archive.Store on Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	opts   *options
	owned  bool
	logger *slog.Logger
}

var _ archive.Store = (*Store)(nil)

// New creates a GCS store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if err := o.validate(); err != nil {
		return nil, err
	}

	s := &Store{
		client: o.client,
		bucket: o.bucket,
		prefix: o.prefix,
		opts:   o,
		logger: o.logger,
	}
	if s.client == nil {
		clientOpts, err := clientOptions(o)
		if err != nil {
			return nil, fmt.Errorf("build client options: %w", err)
		}
		client, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		s.client = client
		s.owned = true
	}
	return s, nil
}

// clientOptions picks the credential source. With none set, Application
// Default Credentials apply.
func clientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{storeScope},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{storeScope},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Upload streams content to key and returns a gs://bucket/key URI.
func (s *Store) Upload(ctx context.Context, key, contentType string, content io.Reader) (string, error) {
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if s.opts.storageClass != "" {
		w.StorageClass = s.opts.storageClass
	}
	if s.opts.chunkSize >= 0 {
		w.ChunkSize = s.opts.chunkSize
	}
	if len(s.opts.metadata) > 0 {
		w.Metadata = maps.Clone(s.opts.metadata)
	}

	if _, err := io.Copy(w, content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy content to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	s.logger.Debug("archived to gcs", "bucket", s.bucket, "key", key)
	return scheme + s.bucket + "/" + key, nil
}

// Load returns a reader for the object at uri.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, uri)
		}
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	return r, nil
}

// Delete removes the object at uri.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return err
	}

	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", archive.ErrNotFound, uri)
		}
		return fmt.Errorf("delete object from gcs: %w", err)
	}

	s.logger.Debug("deleted archived object from gcs", "bucket", bucket, "key", key)
	return nil
}

// Close closes the GCS client unless it was passed in with WithClient.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// parseURI splits a gs://bucket/key URI.
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
