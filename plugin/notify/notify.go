// Package notify publishes an event for every spooled message.
//
// Events go through an rbaliyan/event bus. The transport is picked in
// this order: a custom transport (WithEventTransport), Redis Streams
// (WithRedisClient), or a noop transport that drops events.
//
//	p, err := notify.New(ctx, notify.WithRedisClient(rdb))
//	if err != nil { ... }
//	defer p.Close(ctx)
//	transport.RegisterPlugin(p)
//
// Consumers subscribe to p.Spooled() on their own bus sharing the transport.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailspool"
)

// EventNameSpooled is the suffix of the published event name. The full
// name is "<bus>.mailspool.message.spooled".
const EventNameSpooled = "mailspool.message.spooled"

// SpooledEvent is published after a message was written to the spool.
type SpooledEvent struct {
	Path           string    `json:"path"`
	RecipientCount int       `json:"recipient_count"`
	Size           int64     `json:"size"`
	ArchiveURI     string    `json:"archive_uri,omitempty"`
	SpooledAt      time.Time `json:"spooled_at"`
}

// PublishError is returned from AfterSend when publishing fails and errors
// are fatal. The message is already spooled.
type PublishError struct {
	Event string
	Path  string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("notify: event %s publish failed for %s: %v", e.Event, e.Path, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// FailureFunc is called when an event fails to publish and errors are not fatal.
type FailureFunc func(eventName string, err error)

// publisher is satisfied by event.Event[SpooledEvent].
type publisher interface {
	Publish(ctx context.Context, data SpooledEvent) error
}

type options struct {
	name           string
	serviceName    string
	logger         *slog.Logger
	errorsFatal    bool
	eventTransport transport.Transport
	redisClient    redis.UniversalClient
	onFailure      FailureFunc
}

// Option configures the plugin.
type Option func(*options)

// WithName overrides the listener name. Default is "notify".
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithServiceName sets the prefix of the event bus name. Default is "mailspool".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
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

// WithErrorsFatal makes AfterSend return a *PublishError when publishing fails.
// Default is false: failures are passed to the failure handler and the send succeeds.
func WithErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.errorsFatal = fatal
	}
}

// WithEventTransport sets the event transport. Takes precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events to Redis Streams.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithFailureHandler sets a callback for non-fatal publish failures.
// By default, failures are logged.
func WithFailureHandler(fn FailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onFailure = fn
		}
	}
}

// busCloser is the part of *event.Bus the plugin needs after setup.
type busCloser interface {
	Close(ctx context.Context) error
}

// Plugin publishes a SpooledEvent after every successful send.
type Plugin struct {
	opts    *options
	logger  *slog.Logger
	bus     busCloser
	spooled event.Event[SpooledEvent]
	pub     publisher
	closed  atomic.Bool
}

var _ mailspool.AfterSendListener = (*Plugin)(nil)

// busCounter generates unique suffixes for bus names.
var busCounter int64

// New creates the plugin and its event bus.
func New(ctx context.Context, opts ...Option) (*Plugin, error) {
	o := &options{
		name:        "notify",
		serviceName: "mailspool",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.onFailure == nil {
		logger := o.logger
		o.onFailure = func(eventName string, err error) {
			logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	// Each bus needs a unique name.
	busName := fmt.Sprintf("%s-%d", o.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error
	switch {
	case o.eventTransport != nil:
		o.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(o.eventTransport))
	case o.redisClient != nil:
		o.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(o.redisClient)
		if transportErr != nil {
			return nil, fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		o.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return nil, fmt.Errorf("create event bus: %w", err)
	}

	spooled := event.New[SpooledEvent](busName + "." + EventNameSpooled)
	if err := event.Register(ctx, bus, spooled); err != nil {
		bus.Close(ctx)
		return nil, fmt.Errorf("register event: %w", err)
	}

	return &Plugin{
		opts:    o,
		logger:  o.logger,
		bus:     bus,
		spooled: spooled,
		pub:     spooled,
	}, nil
}

// Name returns the listener name.
func (p *Plugin) Name() string { return p.opts.name }

// Spooled returns the registered event, for subscribers.
func (p *Plugin) Spooled() event.Event[SpooledEvent] { return p.spooled }

// AfterSend publishes a SpooledEvent describing the written file.
func (p *Plugin) AfterSend(ctx context.Context, evt *mailspool.SendEvent) error {
	if p.closed.Load() {
		return nil
	}
	path := evt.Path()
	data := SpooledEvent{
		Path:           path,
		RecipientCount: mailspool.RecipientCount(evt.Message()),
		ArchiveURI:     evt.Attribute(mailspool.AttrArchiveURI),
		SpooledAt:      time.Now().UTC(),
	}
	if info, err := os.Stat(path); err == nil {
		data.Size = info.Size()
	}

	if err := p.pub.Publish(ctx, data); err != nil {
		if p.opts.errorsFatal {
			return &PublishError{Event: EventNameSpooled, Path: path, Err: err}
		}
		p.safeFailure(EventNameSpooled, err)
	}
	return nil
}

// Close closes the event bus, whatever its transport. Later sends are not
// published. Calling Close again is a no-op.
func (p *Plugin) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.bus != nil {
		if err := p.bus.Close(ctx); err != nil {
			return fmt.Errorf("close event bus: %w", err)
		}
	}
	return nil
}

// safeFailure calls the failure callback, suppressing panics.
func (p *Plugin) safeFailure(eventName string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in publish failure handler",
				"event", eventName,
				"error", err,
				"panic", r)
		}
	}()
	p.opts.onFailure(eventName, err)
}

// IsPublishError reports whether err carries a *PublishError.
func IsPublishError(err error) (*PublishError, bool) {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
