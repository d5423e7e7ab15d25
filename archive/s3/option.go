package s3

import (
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rbaliyan/mailspool/archive"
)

// Defaults applied by New.
const (
	DefaultRegion          = "us-east-1"
	DefaultRoleSessionName = "mailspool-archive"
)

// ErrConflictingCredentials is returned by New when more than one
// credential source was configured.
var ErrConflictingCredentials = errors.New("s3: conflicting credential options")

type staticKeys struct {
	accessKey    string
	secretKey    string
	sessionToken string
}

type role struct {
	arn         string
	sessionName string
	externalID  string
}

type options struct {
	bucket    string
	prefix    string
	region    string
	endpoint  string
	pathStyle bool

	// At most one of static, role and provider is set.
	static   *staticKeys
	role     *role
	provider aws.CredentialsProvider

	client *s3.Client
	logger *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		region: DefaultRegion,
		logger: slog.Default(),
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
	for _, set := range []bool{o.static != nil, o.role != nil, o.provider != nil} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return ErrConflictingCredentials
	}
	return nil
}

// Option configures the S3 store.
type Option func(*options)

// WithBucket names the archive bucket. Required.
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix is joined in front of every archive key, for example to keep
// several spools in one bucket.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion overrides DefaultRegion.
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithEndpoint points the store at an S3-compatible service such as MinIO.
// pathStyle selects bucket-in-path addressing, which most of them need.
func WithEndpoint(endpoint string, pathStyle bool) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.pathStyle = pathStyle
	}
}

// WithStaticCredentials uses fixed keys. sessionToken may be empty.
// With no credential option the default AWS chain applies.
func WithStaticCredentials(accessKey, secretKey, sessionToken string) Option {
	return func(o *options) {
		o.static = &staticKeys{accessKey: accessKey, secretKey: secretKey, sessionToken: sessionToken}
	}
}

// WithAssumeRole obtains credentials for roleARN through STS. An empty
// sessionName uses DefaultRoleSessionName; externalID may be empty.
func WithAssumeRole(roleARN, sessionName, externalID string) Option {
	return func(o *options) {
		if sessionName == "" {
			sessionName = DefaultRoleSessionName
		}
		o.role = &role{arn: roleARN, sessionName: sessionName, externalID: externalID}
	}
}

// WithCredentialsProvider uses p for every request.
func WithCredentialsProvider(p aws.CredentialsProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithClient uses an existing client. Region, endpoint and credential
// options are ignored.
func WithClient(c *s3.Client) Option {
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
