package archive_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/mailspool"
	"github.com/rbaliyan/mailspool/archive"
	"github.com/rbaliyan/mailspool/archive/memory"
	"github.com/rbaliyan/mailspool/message"
	"github.com/rbaliyan/mailspool/retry"
)

func fastRetry(n int) retry.Config {
	return retry.Config{MaxRetries: n, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func spooledFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-01-01 12_00_00_k.eml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	key := archive.Key("outbound", at, "/var/spool/2024-03-09 23_00_00.eml")

	parts := strings.Split(key, "/")
	if len(parts) != 6 {
		t.Fatalf("expected 6 key segments, got %q", key)
	}
	if parts[0] != "outbound" || parts[1] != "2024" || parts[2] != "03" || parts[3] != "09" {
		t.Errorf("unexpected prefix or date in %q", key)
	}
	if len(parts[4]) != 36 {
		t.Errorf("expected uuid segment, got %q", parts[4])
	}
	if parts[5] != "2024-03-09 23_00_00.eml" {
		t.Errorf("expected base name, got %q", parts[5])
	}

	if archive.Key("outbound", at, "a.eml") == archive.Key("outbound", at, "a.eml") {
		t.Error("expected keys to differ for identical names")
	}
}

func TestPlugin_AfterSend(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads and records uri", func(t *testing.T) {
		store := memory.New("mail")
		p := archive.NewPlugin(store, archive.WithPrefix("outbound"))

		evt := mailspool.NewSendEvent(nil, message.New())
		evt.SetPath(spooledFile(t, "raw message"))
		if err := p.AfterSend(ctx, evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		uri := evt.Attribute(mailspool.AttrArchiveURI)
		if !strings.HasPrefix(uri, "memory://mail/outbound/") {
			t.Fatalf("unexpected uri %q", uri)
		}
		objects := store.Objects()
		if len(objects) != 1 {
			t.Fatalf("expected 1 object, got %d", len(objects))
		}
		if string(objects[0].Data) != "raw message" || objects[0].ContentType != archive.ContentType {
			t.Errorf("unexpected object %+v", objects[0])
		}

		r, err := store.Load(ctx, uri)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		defer r.Close()
		if data, _ := io.ReadAll(r); string(data) != "raw message" {
			t.Errorf("unexpected content %q", data)
		}
	})

	t.Run("no path is ignored", func(t *testing.T) {
		store := memory.New("mail")
		p := archive.NewPlugin(store)
		if err := p.AfterSend(ctx, mailspool.NewSendEvent(nil, message.New())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.Objects()) != 0 {
			t.Error("expected no upload")
		}
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		store := memory.New("mail")
		store.FailNext(2, errors.New("503 slow down"))
		p := archive.NewPlugin(store, archive.WithRetry(fastRetry(3)))

		evt := mailspool.NewSendEvent(nil, message.New())
		evt.SetPath(spooledFile(t, "x"))
		if err := p.AfterSend(ctx, evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if evt.Attribute(mailspool.AttrArchiveURI) == "" {
			t.Error("expected uri after retries")
		}
	})

	t.Run("non-fatal failure is swallowed", func(t *testing.T) {
		store := memory.New("mail")
		store.FailNext(10, errors.New("unavailable"))
		p := archive.NewPlugin(store, archive.WithRetry(fastRetry(1)))

		evt := mailspool.NewSendEvent(nil, message.New())
		evt.SetPath(spooledFile(t, "x"))
		if err := p.AfterSend(ctx, evt); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if evt.Attribute(mailspool.AttrArchiveURI) != "" {
			t.Error("expected no uri")
		}
	})

	t.Run("fatal failure returns UploadError", func(t *testing.T) {
		store := memory.New("mail")
		cause := errors.New("unavailable")
		store.FailNext(10, cause)
		p := archive.NewPlugin(store, archive.WithRetry(fastRetry(1)), archive.WithErrorsFatal(true))

		evt := mailspool.NewSendEvent(nil, message.New())
		evt.SetPath(spooledFile(t, "x"))
		err := p.AfterSend(ctx, evt)
		var uploadErr *archive.UploadError
		if !errors.As(err, &uploadErr) || !errors.Is(err, cause) || !errors.Is(err, retry.ErrMaxRetries) {
			t.Fatalf("expected upload error after retries, got %v", err)
		}
	})

	t.Run("missing file is not retried", func(t *testing.T) {
		store := memory.New("mail")
		p := archive.NewPlugin(store, archive.WithErrorsFatal(true))

		evt := mailspool.NewSendEvent(nil, message.New())
		evt.SetPath(filepath.Join(t.TempDir(), "gone.eml"))
		err := p.AfterSend(ctx, evt)
		if !errors.Is(err, os.ErrNotExist) || !errors.Is(err, retry.ErrNotRetryable) {
			t.Fatalf("expected non-retryable not-exist error, got %v", err)
		}
	})
}

func TestPlugin_WithTransport(t *testing.T) {
	ctx := context.Background()
	d := mailspool.NewDispatcher()
	tr, err := mailspool.NewFileTransport(d, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := memory.New("mail")
	tr.RegisterPlugin(archive.NewPlugin(store, archive.WithMaxConcurrent(2)))

	msg := message.New().AddTo("a@x.com").SetBody("archived body")
	for i := 0; i < 3; i++ {
		if _, err := tr.Send(ctx, msg); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	objects := store.Objects()
	if len(objects) != 3 {
		t.Fatalf("expected 3 archived objects, got %d", len(objects))
	}
	for _, obj := range objects {
		if string(obj.Data) != msg.String() {
			t.Errorf("archived content differs from spooled message")
		}
	}
}
