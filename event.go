package mailspool

import (
	"sync"
	"time"
)

// Phase names a point in the send lifecycle at which listeners are invoked.
type Phase string

// Send phases.
const (
	PhaseBeforeSend Phase = "before-send"
	PhaseAfterSend  Phase = "after-send"
)

// Result is the outcome recorded on a SendEvent.
type Result int

// Send results.
const (
	ResultPending Result = iota
	ResultSuccess
	ResultFailed
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Well-known event attribute keys.
const (
	// AttrArchiveURI holds the object storage URI of the archived copy.
	AttrArchiveURI = "archive.uri"
)

// SendEvent carries a single send operation through the dispatch phases.
// It is created fresh by the dispatcher for every Send call and is only
// valid for the duration of that call.
type SendEvent struct {
	transport Transport
	message   Message
	createdAt time.Time

	mu         sync.Mutex
	result     Result
	cancelled  bool
	path       string
	attributes map[string]string
}

// NewSendEvent creates a pending event for the given transport and message.
// Dispatcher implementations use this from CreateSendEvent.
func NewSendEvent(t Transport, msg Message) *SendEvent {
	return &SendEvent{
		transport: t,
		message:   msg,
		createdAt: time.Now(),
		result:    ResultPending,
	}
}

// Transport returns the transport performing the send.
func (e *SendEvent) Transport() Transport { return e.transport }

// Message returns the message being sent. Listeners may mutate it during
// the before-send phase.
func (e *SendEvent) Message() Message { return e.message }

// CreatedAt returns when the event was created.
func (e *SendEvent) CreatedAt() time.Time { return e.createdAt }

// Cancel stops the send. It only has an effect while the result is still
// pending, i.e. during the before-send phase.
func (e *SendEvent) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == ResultPending {
		e.cancelled = true
	}
}

// IsCancelled reports whether a listener cancelled the send.
func (e *SendEvent) IsCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Result returns the current result code.
func (e *SendEvent) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// SetResult records the send outcome.
func (e *SendEvent) SetResult(r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = r
}

// Path returns the spooled file path. Empty until the write succeeded.
func (e *SendEvent) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// SetPath records where the message was spooled.
func (e *SendEvent) SetPath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = path
}

// Attribute returns a value stored by an earlier listener.
func (e *SendEvent) Attribute(key string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attributes[key]
}

// SetAttribute stores a value for listeners invoked later in the same send.
func (e *SendEvent) SetAttribute(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attributes == nil {
		e.attributes = make(map[string]string)
	}
	e.attributes[key] = value
}
