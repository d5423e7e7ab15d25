// Package archive uploads every spooled message to object storage.
//
// The Plugin is an after-send listener: once the transport has written a
// file, the plugin streams it to a Store and records the resulting URI on
// the send event under mailspool.AttrArchiveURI, where later listeners
// (for example the journal) can pick it up.
//
//	store, _ := s3.New(ctx, s3.WithBucket("mail-archive"))
//	p := archive.NewPlugin(store, archive.WithPrefix("outbound"))
//	transport.RegisterPlugin(p)
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rbaliyan/mailspool"
	"github.com/rbaliyan/mailspool/retry"
)

// ContentType is the MIME type of archived messages.
const ContentType = "message/rfc822"

// Defaults.
const (
	DefaultPrefix        = "spool"
	DefaultMaxConcurrent = 8
	DefaultPluginName    = "archive"
	keyDateLayout        = "2006/01/02"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNotFound is returned when an archived object does not exist.
	ErrNotFound = errors.New("archive: not found")

	// ErrInvalidURI is returned for URIs a store cannot parse.
	ErrInvalidURI = errors.New("archive: invalid uri")

	// ErrBucketRequired is returned by stores constructed without a bucket.
	ErrBucketRequired = errors.New("archive: bucket is required")
)

// Store persists archived message files.
type Store interface {
	// Upload stores content under key and returns a URI for later retrieval.
	Upload(ctx context.Context, key, contentType string, content io.Reader) (uri string, err error)

	// Load returns a reader for the object at uri. Caller closes the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the object at uri.
	Delete(ctx context.Context, uri string) error
}

// Key returns the object key for a spooled file: <prefix>/<YYYY/MM/DD>/<uuid>/<basename>.
// The uuid keeps keys unique even when several hosts spool identically named files.
func Key(prefix string, at time.Time, spoolPath string) string {
	return path.Join(prefix, at.UTC().Format(keyDateLayout), uuid.NewString(), filepath.Base(spoolPath))
}

// UploadError is returned from AfterSend when the upload failed and
// errors are fatal. The message stays in the spool.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("archive: upload %q: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

type options struct {
	name          string
	prefix        string
	maxConcurrent int64
	errorsFatal   bool
	retry         retry.Config
	clock         func() time.Time
	logger        *slog.Logger
}

// Option configures the Plugin.
type Option func(*options)

// WithName overrides the listener name. Default is "archive".
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithPrefix sets the key prefix. Default is "spool".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithMaxConcurrent bounds the number of uploads in flight across all sends.
// Default is 8.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = int64(n)
		}
	}
}

// WithErrorsFatal makes AfterSend return an *UploadError when the upload fails.
// Default is false: failures are logged and the send succeeds.
func WithErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.errorsFatal = fatal
	}
}

// WithRetry sets the retry policy for uploads. Default is retry.DefaultConfig().
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithClock sets the time source used for the date component of keys.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Plugin archives spooled files after each successful send.
type Plugin struct {
	store  Store
	opts   *options
	logger *slog.Logger
	sem    *semaphore.Weighted
}

var _ mailspool.AfterSendListener = (*Plugin)(nil)

// NewPlugin creates an archive listener backed by store.
func NewPlugin(store Store, opts ...Option) *Plugin {
	o := &options{
		name:          DefaultPluginName,
		prefix:        DefaultPrefix,
		maxConcurrent: DefaultMaxConcurrent,
		retry:         retry.DefaultConfig(),
		clock:         time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Plugin{
		store:  store,
		opts:   o,
		logger: o.logger,
		sem:    semaphore.NewWeighted(o.maxConcurrent),
	}
}

// Name returns the listener name.
func (p *Plugin) Name() string { return p.opts.name }

// AfterSend uploads the spooled file and stores its URI on the event.
func (p *Plugin) AfterSend(ctx context.Context, evt *mailspool.SendEvent) error {
	spoolPath := evt.Path()
	if spoolPath == "" {
		return nil
	}

	uri, err := p.Archive(ctx, spoolPath)
	if err != nil {
		if p.opts.errorsFatal {
			return &UploadError{Path: spoolPath, Err: err}
		}
		p.logger.Error("failed to archive spooled message", "path", spoolPath, "error", err)
		return nil
	}

	evt.SetAttribute(mailspool.AttrArchiveURI, uri)
	return nil
}

// Archive uploads the file at spoolPath and returns its URI.
func (p *Plugin) Archive(ctx context.Context, spoolPath string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	key := Key(p.opts.prefix, p.opts.clock(), spoolPath)

	cfg := p.opts.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
			p.logger.Warn("retrying archive upload",
				"path", spoolPath, "attempt", attempt, "backoff", backoff, "error", err)
		}
	}

	uri, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (string, error) {
		f, err := os.Open(spoolPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return p.store.Upload(ctx, key, ContentType, f)
	})
	if err != nil {
		return "", err
	}

	p.logger.Debug("archived spooled message", "path", spoolPath, "uri", uri)
	return uri, nil
}
