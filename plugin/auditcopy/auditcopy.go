// Package auditcopy provides a listener that blind-copies every outgoing
// message to a fixed audit address.
package auditcopy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/rbaliyan/mailspool"
)

// Trace headers recording the original addressees.
const (
	HeaderTo = "X-Spool-To"
	HeaderCc = "X-Spool-Cc"
)

// ErrAddressRequired is returned by New when no audit address is given.
var ErrAddressRequired = errors.New("auditcopy: address is required")

// Plugin adds a fixed blind-copy recipient before every send.
// It never cancels a send and does nothing after it.
type Plugin struct {
	address string
	name    string
	logger  *slog.Logger
}

var _ mailspool.BeforeSendListener = (*Plugin)(nil)

// Option configures the plugin.
type Option func(*Plugin)

// WithName overrides the listener name. Default is "auditcopy".
// Use distinct names to bind several audit copies to one dispatcher.
func WithName(name string) Option {
	return func(p *Plugin) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a plugin copying every message to address.
func New(address string, opts ...Option) (*Plugin, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	p := &Plugin{
		address: address,
		name:    "auditcopy",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the listener name.
func (p *Plugin) Name() string { return p.name }

// Address returns the audit recipient.
func (p *Plugin) Address() string { return p.address }

// BeforeSend records the original To and Cc lists in trace headers and
// adds the audit address as a blind-copy recipient.
func (p *Plugin) BeforeSend(_ context.Context, evt *mailspool.SendEvent) error {
	msg := evt.Message()

	if to := msg.To(); len(to) > 0 {
		msg.SetHeader(HeaderTo, strings.Join(to, ", "))
	}
	if cc := msg.Cc(); len(cc) > 0 {
		msg.SetHeader(HeaderCc, strings.Join(cc, ", "))
	}

	msg.AddBcc(p.address)
	p.logger.Debug("added audit copy", "address", p.address)
	return nil
}
