// Package journal keeps an index of spooled messages.
//
// The Plugin records one Entry per successful send. Entries carry the
// spool path, the recipients, the file size and, when an archive listener
// ran earlier in the same send, the archive URI. Bind the archive listener
// before the journal so the URI is available.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rbaliyan/mailspool"
)

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Sentinel errors shared by store implementations.
var (
	ErrNotConnected     = errors.New("journal: not connected")
	ErrAlreadyConnected = errors.New("journal: already connected")
	ErrInvalidEntry     = errors.New("journal: invalid entry")
	ErrDuplicate        = errors.New("journal: duplicate entry")
)

// Entry describes one spooled message.
type Entry struct {
	ID             string    `json:"id" bson:"_id"`
	Path           string    `json:"path" bson:"path"`
	Recipients     []string  `json:"recipients" bson:"recipients"`
	RecipientCount int       `json:"recipient_count" bson:"recipient_count"`
	Size           int64     `json:"size" bson:"size"`
	ArchiveURI     string    `json:"archive_uri,omitempty" bson:"archive_uri,omitempty"`
	SpooledAt      time.Time `json:"spooled_at" bson:"spooled_at"`
}

// Validate reports entries that cannot be stored.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidEntry)
	}
	if e.SpooledAt.IsZero() {
		return fmt.Errorf("%w: spooled time is required", ErrInvalidEntry)
	}
	return nil
}

// ListOptions filters List results. Entries are returned newest first.
type ListOptions struct {
	// Since and Until bound SpooledAt, inclusive. Zero means unbounded.
	Since time.Time
	Until time.Time
	// Recipient keeps only entries addressed to this recipient.
	Recipient string
	// Limit caps the result size. Zero uses DefaultListLimit.
	Limit int
	// Offset skips the first entries.
	Offset int
}

// Normalize applies the default and maximum limit.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	o.Limit = min(o.Limit, MaxListLimit)
	o.Offset = max(o.Offset, 0)
	return o
}

// Match reports whether e passes the filters. Used by stores that filter in process.
func (o ListOptions) Match(e Entry) bool {
	if !o.Since.IsZero() && e.SpooledAt.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && e.SpooledAt.After(o.Until) {
		return false
	}
	if o.Recipient != "" && !slices.Contains(e.Recipients, o.Recipient) {
		return false
	}
	return true
}

// Store persists journal entries.
type Store interface {
	// Connect prepares the backend (schema, indexes).
	Connect(ctx context.Context) error
	// Close releases resources held by the store.
	Close(ctx context.Context) error
	// Record stores e. A second entry with the same ID fails with ErrDuplicate.
	Record(ctx context.Context, e Entry) error
	// List returns entries matching opts, newest first.
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
}

// RecordError is returned from AfterSend when recording failed and errors
// are fatal. The message is already spooled.
type RecordError struct {
	Path string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("journal: record %q: %v", e.Path, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

type options struct {
	name        string
	errorsFatal bool
	clock       func() time.Time
	logger      *slog.Logger
}

// Option configures the Plugin.
type Option func(*options)

// WithName overrides the listener name. Default is "journal".
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithErrorsFatal makes AfterSend return a *RecordError when recording fails.
func WithErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.errorsFatal = fatal
	}
}

// WithClock sets the time source for SpooledAt.
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

// Plugin records a journal entry after every successful send.
type Plugin struct {
	store  Store
	opts   *options
	logger *slog.Logger
}

var _ mailspool.AfterSendListener = (*Plugin)(nil)

// NewPlugin creates a journal listener backed by store. The store must be connected.
func NewPlugin(store Store, opts ...Option) *Plugin {
	o := &options{
		name:   "journal",
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Plugin{store: store, opts: o, logger: o.logger}
}

// Name returns the listener name.
func (p *Plugin) Name() string { return p.opts.name }

// AfterSend records the spooled message.
func (p *Plugin) AfterSend(ctx context.Context, evt *mailspool.SendEvent) error {
	entry := p.entry(evt)
	if entry.Path == "" {
		return nil
	}

	if err := p.store.Record(ctx, entry); err != nil {
		if p.opts.errorsFatal {
			return &RecordError{Path: entry.Path, Err: err}
		}
		p.logger.Error("failed to record journal entry", "path", entry.Path, "error", err)
		return nil
	}

	p.logger.Debug("recorded journal entry", "id", entry.ID, "path", entry.Path)
	return nil
}

func (p *Plugin) entry(evt *mailspool.SendEvent) Entry {
	msg := evt.Message()
	recipients := slices.Concat(msg.To(), msg.Cc(), msg.Bcc())

	e := Entry{
		ID:             uuid.NewString(),
		Path:           evt.Path(),
		Recipients:     recipients,
		RecipientCount: len(recipients),
		ArchiveURI:     evt.Attribute(mailspool.AttrArchiveURI),
		SpooledAt:      p.opts.clock().UTC(),
	}
	if info, err := os.Stat(e.Path); err == nil {
		e.Size = info.Size()
	}
	return e
}
