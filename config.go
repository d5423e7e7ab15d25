package mailspool

import (
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
)

// DefaultEnvPrefix is the environment variable prefix used by LoadConfig.
const DefaultEnvPrefix = "MAILSPOOL_"

// Config holds transport settings loaded from the environment.
//
//	MAILSPOOL_DIR=/var/spool/mail-out
//	MAILSPOOL_MAX_RETRIES=10
//	MAILSPOOL_EXTENSION=.eml
type Config struct {
	Dir            string `env:"DIR,required"`
	MaxRetries     int    `env:"MAX_RETRIES" envDefault:"10"`
	Extension      string `env:"EXTENSION" envDefault:".eml"`
	SuffixAlphabet string `env:"SUFFIX_ALPHABET"`
	DirMode        uint32 `env:"DIR_MODE" envDefault:"511"`  // 0777
	FileMode       uint32 `env:"FILE_MODE" envDefault:"438"` // 0666
	Tracing        bool   `env:"TRACING"`
	Metrics        bool   `env:"METRICS"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"mailspool"`
}

// LoadConfig parses Config from the process environment using prefix.
// An empty prefix uses DefaultEnvPrefix.
func LoadConfig(prefix string) (Config, error) {
	return loadConfig(prefix, nil)
}

// loadConfig parses Config from environ, or the process environment when nil.
func loadConfig(prefix string, environ map[string]string) (Config, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	cfg, err := env.ParseAsWithOptions[Config](env.Options{
		Prefix:      prefix,
		Environment: environ,
	})
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Options converts the config into transport options.
func (c Config) Options() []Option {
	opts := []Option{
		WithMaxRetries(c.MaxRetries),
		WithExtension(c.Extension),
		WithDirMode(modeOf(c.DirMode)),
		WithFileMode(modeOf(c.FileMode)),
		WithTracing(c.Tracing),
		WithMetrics(c.Metrics),
		WithServiceName(c.ServiceName),
	}
	if c.SuffixAlphabet != "" {
		opts = append(opts, WithSuffixAlphabet(c.SuffixAlphabet))
	}
	return opts
}

// NewFileTransportFromConfig creates a transport from cfg. Extra options are
// applied after the config-derived ones.
func NewFileTransportFromConfig(dispatcher Dispatcher, cfg Config, opts ...Option) (*FileTransport, error) {
	return NewFileTransport(dispatcher, cfg.Dir, append(cfg.Options(), opts...)...)
}

func modeOf(m uint32) fs.FileMode {
	return fs.FileMode(m) & fs.ModePerm
}
