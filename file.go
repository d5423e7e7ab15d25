package mailspool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// FileTransport is a Transport that writes every message to a uniquely
// named file instead of delivering it over the network.
//
// Files are named after the send time at second granularity. Concurrent
// senders, in this process or others, that race on the same name are
// disambiguated with exclusive creates rather than locks, so any number of
// transports may share a directory.
type FileTransport struct {
	dir        string
	dispatcher Dispatcher
	opts       *options
	logger     *slog.Logger
	otel       *otelInstrumentation
}

var _ Transport = (*FileTransport)(nil)

// NewFileTransport creates a transport spooling into dir, creating the
// directory and its parents if they do not exist. The dispatcher is shared
// with the caller and may be nil, in which case sends skip all phases.
func NewFileTransport(dispatcher Dispatcher, dir string, opts ...Option) (*FileTransport, error) {
	o := newOptions(opts...)

	if dir == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidOption)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(dir); err != nil {
		// MkdirAll succeeds if another process created dir in the meantime.
		if err := os.MkdirAll(dir, o.dirMode); err != nil {
			return nil, &DirectoryError{Path: dir, Err: err}
		}
		o.logger.Info("created spool directory", "dir", dir)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &FileTransport{
		dir:        dir,
		dispatcher: dispatcher,
		opts:       o,
		logger:     o.logger,
		otel:       otelInstr,
	}, nil
}

// SpoolDir returns the directory messages are written to.
func (t *FileTransport) SpoolDir() string {
	return t.dir
}

// IsAlive always returns true: there is no connection to probe.
func (t *FileTransport) IsAlive(context.Context) bool {
	return true
}

// IsStarted always returns true.
func (t *FileTransport) IsStarted() bool {
	return true
}

// Start is a no-op.
func (t *FileTransport) Start(context.Context) error {
	return nil
}

// Stop is a no-op.
func (t *FileTransport) Stop(context.Context) error {
	return nil
}

// RegisterPlugin binds l to the transport's dispatcher.
func (t *FileTransport) RegisterPlugin(l Listener) {
	if l == nil {
		return
	}
	if t.dispatcher == nil {
		t.logger.Warn("plugin ignored: transport has no dispatcher", "plugin", l.Name())
		return
	}
	t.dispatcher.Bind(l)
}

// Send spools msg and returns the number of recipients addressed.
//
// Listeners bound to before-send run first and may mutate or cancel the
// message; a cancelled send returns 0 and no error. Recipients are counted
// after all listeners ran, so recipients added by listeners are included.
// If an after-send listener fails, the message is already spooled: the
// count is returned together with a *PluginError.
//
// Spooling fails with *RetryExhaustedError, *PartialWriteError, or
// *CreateError when the file cannot be created for a reason other than a
// name collision (permission denied, directory removed). All three match ErrIO.
// Cancelled sends are counted in mailspool.send.cancelled only.
func (t *FileTransport) Send(ctx context.Context, msg Message) (count int, err error) {
	if msg == nil {
		return 0, ErrNilMessage
	}

	ctx, endSpan := t.otel.startSpan(ctx, "mailspool.send",
		attribute.String("dir", t.dir),
	)
	start := time.Now()
	var size int
	var cancelled bool
	defer func() {
		endSpan(err)
		if !cancelled {
			t.otel.recordSend(ctx, time.Since(start), count, size, err)
		}
	}()

	var evt *SendEvent
	if t.dispatcher != nil {
		evt = t.dispatcher.CreateSendEvent(t, msg)
	}

	if evt != nil {
		if err = t.dispatcher.Dispatch(ctx, evt, PhaseBeforeSend); err != nil {
			evt.SetResult(ResultFailed)
			return 0, err
		}
		if evt.IsCancelled() {
			t.logger.Debug("send cancelled by listener", "dir", t.dir)
			t.otel.recordCancelled(ctx)
			cancelled = true
			return 0, nil
		}
	}

	body := msg.String()
	size = len(body)
	path, err := t.spool(ctx, body)
	if err != nil {
		if evt != nil {
			evt.SetResult(ResultFailed)
		}
		t.logger.Error("failed to spool message", "dir", t.dir, "error", err)
		return 0, err
	}

	if evt != nil {
		evt.SetPath(path)
		evt.SetResult(ResultSuccess)
		if dispatchErr := t.dispatcher.Dispatch(ctx, evt, PhaseAfterSend); dispatchErr != nil {
			var pluginErr *PluginError
			if !errors.As(dispatchErr, &pluginErr) {
				dispatchErr = &PluginError{Plugin: "dispatcher", Op: string(PhaseAfterSend), Err: dispatchErr}
			}
			count = RecipientCount(msg)
			err = dispatchErr
			return count, err
		}
	}

	count = RecipientCount(msg)
	t.logger.Debug("message spooled", "path", path, "recipients", count, "bytes", size)
	return count, nil
}
