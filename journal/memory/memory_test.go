package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbaliyan/mailspool/journal"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Record(ctx, journal.Entry{}); !errors.Is(err, journal.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(ctx); !errors.Is(err, journal.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rcpt := "a@x.com"
		if i%2 == 1 {
			rcpt = "b@x.com"
		}
		e := journal.Entry{
			ID:         fmt.Sprintf("id-%d", i),
			Path:       fmt.Sprintf("/spool/%d.eml", i),
			Recipients: []string{rcpt},
			SpooledAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	if err := s.Record(ctx, journal.Entry{ID: "id-0", Path: "/x", SpooledAt: base}); !errors.Is(err, journal.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if err := s.Record(ctx, journal.Entry{ID: "id-9"}); !errors.Is(err, journal.ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		entries, err := s.List(ctx, journal.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 5 || entries[0].ID != "id-4" || entries[4].ID != "id-0" {
			t.Errorf("unexpected order %+v", entries)
		}
	})

	t.Run("filters and paging", func(t *testing.T) {
		entries, err := s.List(ctx, journal.ListOptions{Recipient: "a@x.com", Limit: 2, Offset: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 || entries[0].ID != "id-2" || entries[1].ID != "id-0" {
			t.Errorf("unexpected page %+v", entries)
		}

		entries, err = s.List(ctx, journal.ListOptions{Since: base.Add(3 * time.Minute)})
		if err != nil || len(entries) != 2 {
			t.Errorf("expected 2 recent entries, got %d, %v", len(entries), err)
		}

		entries, err = s.List(ctx, journal.ListOptions{Offset: 10})
		if err != nil || len(entries) != 0 {
			t.Errorf("expected empty page, got %d, %v", len(entries), err)
		}
	})

	t.Run("returned entries are copies", func(t *testing.T) {
		entries, _ := s.List(ctx, journal.ListOptions{Limit: 1})
		entries[0].Recipients[0] = "mutated"
		again, _ := s.List(ctx, journal.ListOptions{Limit: 1})
		if again[0].Recipients[0] == "mutated" {
			t.Error("expected store to be isolated from callers")
		}
	})

	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.List(ctx, journal.ListOptions{}); !errors.Is(err, journal.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}
