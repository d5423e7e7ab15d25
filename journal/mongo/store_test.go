package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/mailspool/journal"
)

func TestListFilter(t *testing.T) {
	if got := listFilter(journal.ListOptions{}); len(got) != 0 {
		t.Errorf("expected empty filter, got %v", got)
	}

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := listFilter(journal.ListOptions{Since: since, Recipient: "a@x.com"})
	if len(got) != 2 {
		t.Fatalf("expected 2 conditions, got %v", got)
	}
	if got[0].Key != "spooled_at" {
		t.Errorf("expected spooled_at condition first, got %q", got[0].Key)
	}
	rng, ok := got[0].Value.(bson.D)
	if !ok || len(rng) != 1 || rng[0].Key != "$gte" {
		t.Errorf("unexpected range %v", got[0].Value)
	}
	if got[1].Key != "recipients" || got[1].Value != "a@x.com" {
		t.Errorf("unexpected recipient condition %v", got[1])
	}
}

func TestNotConnected(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	if err := s.Record(ctx, journal.Entry{}); !errors.Is(err, journal.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(ctx); err == nil {
		t.Error("expected error without client")
	}
}

// TestStore_Integration runs against a real server when MAILSPOOL_TEST_MONGO_URI is set.
func TestStore_Integration(t *testing.T) {
	uri := os.Getenv("MAILSPOOL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MAILSPOOL_TEST_MONGO_URI not set")
	}
	ctx := context.Background()

	client, err := mongo.Connect(mongoopts.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Disconnect(ctx)

	database := "mailspool_it_" + uuid.NewString()[:8]
	s := New(client, WithDatabase(database))
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() {
		_ = client.Database(database).Drop(ctx)
		_ = s.Close(ctx)
	}()

	base := time.Now().UTC().Truncate(time.Millisecond)
	e := journal.Entry{
		ID:             uuid.NewString(),
		Path:           "/spool/a.eml",
		Recipients:     []string{"a@x.com"},
		RecipientCount: 1,
		Size:           42,
		SpooledAt:      base,
	}
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, e); !errors.Is(err, journal.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	entries, err := s.List(ctx, journal.ListOptions{Recipient: "a@x.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != e.ID || !entries[0].SpooledAt.Equal(base) {
		t.Errorf("unexpected entries %+v", entries)
	}
}
