package mailspool

import "context"

// Transport sends messages.
//
// Transports without an underlying connection still implement the
// lifecycle methods so callers can treat every transport uniformly.
type Transport interface {
	// Send delivers msg and returns the number of recipients addressed.
	// A send cancelled by a listener returns 0 and a nil error.
	Send(ctx context.Context, msg Message) (int, error)

	// Start establishes the transport's connection, if any.
	Start(ctx context.Context) error
	// Stop tears the connection down, if any.
	Stop(ctx context.Context) error
	// IsStarted reports whether the transport is ready to send.
	IsStarted() bool
	// IsAlive reports whether the transport is still functional.
	IsAlive(ctx context.Context) bool

	// RegisterPlugin binds a listener to the transport's dispatcher.
	RegisterPlugin(l Listener)
}
