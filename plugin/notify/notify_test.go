package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rbaliyan/event/v3/transport/channel"

	"github.com/rbaliyan/mailspool"
	"github.com/rbaliyan/mailspool/message"
)

// fakePublisher records published events and optionally fails.
type fakePublisher struct {
	mu     sync.Mutex
	events []SpooledEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, data SpooledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, data)
	return nil
}

func spooledEvent(t *testing.T) *mailspool.SendEvent {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-01-01 12_00_00.eml")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	msg := message.New().AddTo("a@x.com").AddCc("b@x.com")
	evt := mailspool.NewSendEvent(nil, msg)
	evt.SetPath(path)
	evt.SetResult(mailspool.ResultSuccess)
	return evt
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("noop transport by default", func(t *testing.T) {
		p, err := New(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer p.Close(ctx)
		if p.Name() != "notify" {
			t.Errorf("expected default name, got %q", p.Name())
		}
		if err := p.AfterSend(ctx, spooledEvent(t)); err != nil {
			t.Errorf("expected noop publish to succeed, got %v", err)
		}
	})

	t.Run("custom transport", func(t *testing.T) {
		p, err := New(ctx, WithEventTransport(channel.New()), WithName("events"), WithServiceName("billing"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name() != "events" {
			t.Errorf("expected custom name, got %q", p.Name())
		}
		if err := p.Close(ctx); err != nil {
			t.Errorf("close: %v", err)
		}
		if err := p.Close(ctx); err != nil {
			t.Errorf("second close: %v", err)
		}
	})

	t.Run("distinct buses per plugin", func(t *testing.T) {
		a, err := New(ctx)
		if err != nil {
			t.Fatal(err)
		}
		b, err := New(ctx)
		if err != nil {
			t.Fatalf("second plugin on the same process: %v", err)
		}
		_ = a.Close(ctx)
		_ = b.Close(ctx)
	})
}

// countingBus counts Close calls.
type countingBus struct {
	closes int
	err    error
}

func (b *countingBus) Close(context.Context) error {
	b.closes++
	return b.err
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	t.Run("closes default bus once", func(t *testing.T) {
		p, err := New(ctx)
		if err != nil {
			t.Fatal(err)
		}
		orig := p.bus
		bus := &countingBus{}
		p.bus = bus

		if err := p.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := p.Close(ctx); err != nil {
			t.Fatalf("second close: %v", err)
		}
		if bus.closes != 1 {
			t.Errorf("expected bus to be closed once, got %d", bus.closes)
		}
		_ = orig.Close(ctx)
	})

	t.Run("reports bus error", func(t *testing.T) {
		p, err := New(ctx)
		if err != nil {
			t.Fatal(err)
		}
		orig := p.bus
		p.bus = &countingBus{err: errors.New("drain timeout")}
		if err := p.Close(ctx); err == nil {
			t.Error("expected close error")
		}
		_ = orig.Close(ctx)
	})
}

func TestAfterSend(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes spooled event", func(t *testing.T) {
		p, err := New(ctx)
		if err != nil {
			t.Fatal(err)
		}
		fake := &fakePublisher{}
		p.pub = fake

		evt := spooledEvent(t)
		evt.SetAttribute(mailspool.AttrArchiveURI, "memory://archive/x.eml")
		if err := p.AfterSend(ctx, evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(fake.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(fake.events))
		}
		got := fake.events[0]
		if got.Path != evt.Path() {
			t.Errorf("expected path %q, got %q", evt.Path(), got.Path)
		}
		if got.RecipientCount != 2 {
			t.Errorf("expected 2 recipients, got %d", got.RecipientCount)
		}
		if got.Size != 5 {
			t.Errorf("expected size 5, got %d", got.Size)
		}
		if got.ArchiveURI != "memory://archive/x.eml" {
			t.Errorf("expected archive uri, got %q", got.ArchiveURI)
		}
		if got.SpooledAt.IsZero() {
			t.Error("expected spooled time")
		}
	})

	t.Run("non-fatal failure goes to handler", func(t *testing.T) {
		var handled string
		p, err := New(ctx, WithFailureHandler(func(name string, err error) {
			handled = name
		}))
		if err != nil {
			t.Fatal(err)
		}
		p.pub = &fakePublisher{err: errors.New("broker down")}

		if err := p.AfterSend(ctx, spooledEvent(t)); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if handled != EventNameSpooled {
			t.Errorf("expected failure handler to be called, got %q", handled)
		}
	})

	t.Run("panicking handler is suppressed", func(t *testing.T) {
		p, err := New(ctx, WithFailureHandler(func(string, error) { panic("boom") }))
		if err != nil {
			t.Fatal(err)
		}
		p.pub = &fakePublisher{err: errors.New("broker down")}

		if err := p.AfterSend(ctx, spooledEvent(t)); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	})

	t.Run("fatal failure returns PublishError", func(t *testing.T) {
		cause := errors.New("broker down")
		p, err := New(ctx, WithErrorsFatal(true))
		if err != nil {
			t.Fatal(err)
		}
		p.pub = &fakePublisher{err: cause}

		evt := spooledEvent(t)
		err = p.AfterSend(ctx, evt)
		pe, ok := IsPublishError(err)
		if !ok {
			t.Fatalf("expected *PublishError, got %v", err)
		}
		if pe.Path != evt.Path() || !errors.Is(err, cause) {
			t.Errorf("unexpected publish error: %+v", pe)
		}
	})

	t.Run("closed plugin skips publish", func(t *testing.T) {
		p, err := New(ctx)
		if err != nil {
			t.Fatal(err)
		}
		fake := &fakePublisher{}
		p.pub = fake
		_ = p.Close(ctx)

		if err := p.AfterSend(ctx, spooledEvent(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(fake.events) != 0 {
			t.Error("expected no events after close")
		}
	})
}

func TestPluginWithTransport(t *testing.T) {
	ctx := context.Background()
	d := mailspool.NewDispatcher()
	tr, err := mailspool.NewFileTransport(d, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(ctx, WithErrorsFatal(true))
	if err != nil {
		t.Fatal(err)
	}
	fake := &fakePublisher{}
	p.pub = fake
	tr.RegisterPlugin(p)

	n, err := tr.Send(ctx, message.New().AddTo("a@x.com"))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 and no error, got %d, %v", n, err)
	}
	if len(fake.events) != 1 || fake.events[0].Size == 0 {
		t.Errorf("expected one event with file size, got %+v", fake.events)
	}

	fake.err = errors.New("broker down")
	n, err = tr.Send(ctx, message.New().AddTo("a@x.com"))
	if n != 1 {
		t.Errorf("expected count despite publish failure, got %d", n)
	}
	var pluginErr *mailspool.PluginError
	if !errors.As(err, &pluginErr) || pluginErr.Plugin != "notify" {
		t.Errorf("expected plugin error from notify, got %v", err)
	}
	if _, ok := IsPublishError(err); !ok {
		t.Error("expected publish error in chain")
	}
}
