// Package memory provides an in-memory archive store for tests and development.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rbaliyan/mailspool/archive"
)

const scheme = "memory://"

// Object is an archived object held in memory.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store implements archive.Store in memory. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]Object

	// failures is the number of upcoming Upload calls that fail with failErr.
	failures int
	failErr  error
}

var _ archive.Store = (*Store)(nil)

// New creates an empty store. URIs have the form memory://<bucket>/<key>.
func New(bucket string) *Store {
	if bucket == "" {
		bucket = "archive"
	}
	return &Store{
		bucket:  bucket,
		objects: make(map[string]Object),
	}
}

// FailNext makes the next n uploads fail with err.
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

// Upload stores content under key.
func (s *Store) Upload(ctx context.Context, key, contentType string, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return "", s.failErr
	}
	s.objects[key] = Object{Key: key, ContentType: contentType, Data: data}
	return scheme + s.bucket + "/" + key, nil
}

// Load returns the object at uri.
func (s *Store) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	key, err := s.parse(uri)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, uri)
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

// Delete removes the object at uri.
func (s *Store) Delete(_ context.Context, uri string) error {
	key, err := s.parse(uri)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%w: %s", archive.ErrNotFound, uri)
	}
	delete(s.objects, key)
	return nil
}

// Objects returns a snapshot of all stored objects.
func (s *Store) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj)
	}
	return out
}

func (s *Store) parse(uri string) (string, error) {
	prefix := scheme + s.bucket + "/"
	if !strings.HasPrefix(uri, prefix) || len(uri) == len(prefix) {
		return "", fmt.Errorf("%w: %s", archive.ErrInvalidURI, uri)
	}
	return uri[len(prefix):], nil
}
