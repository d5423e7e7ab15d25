package mailspool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listener is a plugin that reacts to send phases.
// A listener declares which phases it handles by implementing
// BeforeSendListener, AfterSendListener, or both.
type Listener interface {
	// Name returns the listener identifier. Binding a second listener with
	// the same name replaces the first.
	Name() string
}

// BeforeSendListener is invoked before the message is written.
// It may mutate the message or cancel the send via evt.Cancel().
// Return an error to abort the send.
type BeforeSendListener interface {
	Listener
	BeforeSend(ctx context.Context, evt *SendEvent) error
}

// AfterSendListener is invoked after the message was written successfully.
// The message is already spooled and cannot be rolled back.
type AfterSendListener interface {
	Listener
	AfterSend(ctx context.Context, evt *SendEvent) error
}

// Dispatcher creates send events and dispatches them to bound listeners.
// A transport holds a shared, non-owning reference to its dispatcher.
type Dispatcher interface {
	// CreateSendEvent returns a new event, or nil when event dispatch is disabled.
	CreateSendEvent(t Transport, msg Message) *SendEvent
	// Dispatch invokes every listener bound to phase, in registration order.
	Dispatch(ctx context.Context, evt *SendEvent, phase Phase) error
	// Bind registers a listener.
	Bind(l Listener)
}

// EventDispatcher is the default Dispatcher.
// Safe for concurrent use; Bind may be called while sends are in flight.
type EventDispatcher struct {
	mu       sync.RWMutex
	byName   map[string]Listener
	order    []string
	phases   map[Phase][]Listener
	disabled atomic.Bool
	logger   *slog.Logger
}

var _ Dispatcher = (*EventDispatcher)(nil)

// DispatcherOption configures an EventDispatcher.
type DispatcherOption func(*EventDispatcher)

// WithDispatcherLogger sets the logger used for listener diagnostics.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *EventDispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *EventDispatcher {
	d := &EventDispatcher{
		byName: make(map[string]Listener),
		phases: make(map[Phase][]Listener),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind registers a listener. Rebinding a name keeps the original position.
func (d *EventDispatcher) Bind(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	name := l.Name()
	if _, ok := d.byName[name]; !ok {
		d.order = append(d.order, name)
	}
	d.byName[name] = l
	d.rebuild()
	d.logger.Debug("listener bound", "listener", name)
}

// rebuild recomputes the per-phase listener slices. Must hold d.mu.
// Slices are replaced, never mutated, so Dispatch can iterate a snapshot.
func (d *EventDispatcher) rebuild() {
	var before, after []Listener
	for _, name := range d.order {
		l := d.byName[name]
		if _, ok := l.(BeforeSendListener); ok {
			before = append(before, l)
		}
		if _, ok := l.(AfterSendListener); ok {
			after = append(after, l)
		}
	}
	d.phases = map[Phase][]Listener{
		PhaseBeforeSend: before,
		PhaseAfterSend:  after,
	}
}

// Listeners returns the bound listeners in registration order.
func (d *EventDispatcher) Listeners() []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Listener, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.byName[name])
	}
	return out
}

// Disable makes CreateSendEvent return nil, so transports skip all phases.
func (d *EventDispatcher) Disable() { d.disabled.Store(true) }

// Enable re-enables event creation.
func (d *EventDispatcher) Enable() { d.disabled.Store(false) }

// CreateSendEvent returns a new pending event, or nil if the dispatcher is disabled.
func (d *EventDispatcher) CreateSendEvent(t Transport, msg Message) *SendEvent {
	if d.disabled.Load() {
		return nil
	}
	return NewSendEvent(t, msg)
}

// Dispatch invokes the listeners bound to phase in registration order.
// During before-send, dispatch stops at the first listener that cancels
// the event or returns an error.
func (d *EventDispatcher) Dispatch(ctx context.Context, evt *SendEvent, phase Phase) error {
	if evt == nil {
		return nil
	}

	d.mu.RLock()
	listeners, ok := d.phases[phase]
	d.mu.RUnlock()
	if !ok {
		if phase != PhaseBeforeSend && phase != PhaseAfterSend {
			return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
		}
		return nil
	}

	for _, l := range listeners {
		if phase == PhaseBeforeSend && evt.IsCancelled() {
			break
		}
		if err := d.invoke(ctx, l, evt, phase); err != nil {
			return err
		}
	}
	return nil
}

// invoke calls a single listener handler, converting panics into errors.
func (d *EventDispatcher) invoke(ctx context.Context, l Listener, evt *SendEvent, phase Phase) (err error) {
	op := string(phase)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in listener", "listener", l.Name(), "phase", op, "panic", r)
			err = &PluginError{Plugin: l.Name(), Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch phase {
	case PhaseBeforeSend:
		err = l.(BeforeSendListener).BeforeSend(ctx, evt)
	case PhaseAfterSend:
		err = l.(AfterSendListener).AfterSend(ctx, evt)
	}
	if err != nil {
		return &PluginError{Plugin: l.Name(), Op: op, Err: err}
	}
	return nil
}
