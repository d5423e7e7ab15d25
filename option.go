package mailspool

import (
	"io/fs"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultMaxRetries = 10
	DefaultExtension  = ".eml"
	DefaultDirMode    = fs.FileMode(0o777)
	DefaultFileMode   = fs.FileMode(0o666)

	// DefaultSuffixAlphabet must stay filesystem safe: no separators, dots or spaces.
	DefaultSuffixAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

	// TimestampLayout names spooled files at second granularity.
	TimestampLayout = "2006-01-02 15_04_05"

	// suffixSeparator is appended once, before the first random suffix character.
	suffixSeparator = "_"
)

// Rand is the random source used to pick suffix characters.
// *math/rand/v2.Rand satisfies it; implementations must be safe for
// concurrent use when the transport is shared between goroutines.
type Rand interface {
	IntN(n int) int
}

// options holds transport configuration.
type options struct {
	logger *slog.Logger

	maxRetries int
	extension  string
	alphabet   string
	dirMode    fs.FileMode
	fileMode   fs.FileMode

	clock func() time.Time
	rand  Rand

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
		extension:  DefaultExtension,
		alphabet:   DefaultSuffixAlphabet,
		dirMode:    DefaultDirMode,
		fileMode:   DefaultFileMode,
		clock:      time.Now,
		rand:       globalRand{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// validate reports configuration that would break the naming algorithm.
func (o *options) validate() error {
	if o.maxRetries < 0 {
		return ErrInvalidOption
	}
	if o.alphabet == "" || strings.ContainsAny(o.alphabet, "/\\.: \x00") {
		return ErrInvalidOption
	}
	for i := 0; i < len(o.alphabet); i++ {
		if o.alphabet[i] >= utf8.RuneSelf {
			return ErrInvalidOption
		}
	}
	return nil
}

// Option configures a FileTransport.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxRetries sets the number of exclusive-create attempts per send.
// Zero is accepted and makes every send fail with ErrRetryExhausted.
// Default is 10.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithExtension sets the spooled file extension, including the dot.
// Default is ".eml".
func WithExtension(ext string) Option {
	return func(o *options) {
		if ext != "" {
			o.extension = ext
		}
	}
}

// WithSuffixAlphabet sets the characters used to disambiguate colliding names.
// Default is [a-zA-Z0-9_-].
func WithSuffixAlphabet(alphabet string) Option {
	return func(o *options) {
		o.alphabet = alphabet
	}
}

// WithDirMode sets the permission bits for a newly created spool directory.
// Default is 0777 (subject to umask).
func WithDirMode(mode fs.FileMode) Option {
	return func(o *options) {
		o.dirMode = mode
	}
}

// WithFileMode sets the permission bits for spooled files.
// Default is 0666 (subject to umask).
func WithFileMode(mode fs.FileMode) Option {
	return func(o *options) {
		o.fileMode = mode
	}
}

// WithClock sets the time source used for file names.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRand sets the random source used for suffix characters.
func WithRand(r Rand) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name recorded on spans and metrics.
// Default is "mailspool".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}
