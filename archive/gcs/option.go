package gcs

import (
	"errors"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/rbaliyan/mailspool/archive"
)

// ErrConflictingCredentials is returned by New when more than one
// credential source was configured.
var ErrConflictingCredentials = errors.New("gcs: conflicting credential options")

type options struct {
	bucket   string
	prefix   string
	endpoint string

	// Credential sources; at most one is set.
	credentialsJSON []byte
	credentialsFile string
	apiKey          string

	// Applied to every archived object.
	storageClass string
	chunkSize    int
	metadata     map[string]string

	client *storage.Client
	logger *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		chunkSize: -1,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) validate() error {
	if o.bucket == "" {
		return archive.ErrBucketRequired
	}
	sources := 0
	for _, set := range []bool{o.credentialsJSON != nil, o.credentialsFile != "", o.apiKey != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return ErrConflictingCredentials
	}
	return nil
}

// Option configures the GCS store.
type Option func(*options)

// WithBucket names the archive bucket. Required.
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix is joined in front of every archive key.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEndpoint points the client at a storage emulator.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCredentialsJSON uses a service account key held in memory.
//
//	key, _ := os.ReadFile("service-account.json")
//	store, _ := gcs.New(ctx, gcs.WithBucket("mail-archive"), gcs.WithCredentialsJSON(key))
func WithCredentialsJSON(json []byte) Option {
	return func(o *options) {
		o.credentialsJSON = json
	}
}

// WithCredentialsFile reads a service account key from path.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithAPIKey uses an API key. With no credential option, Application
// Default Credentials apply.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithStorageClass stores archived messages in class, for example
// "NEARLINE" or "COLDLINE". Empty keeps the bucket default.
func WithStorageClass(class string) Option {
	return func(o *options) {
		o.storageClass = class
	}
}

// WithChunkSize sets the resumable upload chunk size in bytes. Zero sends
// each message in a single request. Negative keeps the client default.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithMetadata attaches custom metadata to every archived object.
func WithMetadata(md map[string]string) Option {
	return func(o *options) {
		o.metadata = md
	}
}

// WithClient uses an existing client. Endpoint and credential options are ignored.
func WithClient(c *storage.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
