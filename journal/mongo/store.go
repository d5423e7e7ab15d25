// Package mongo provides a MongoDB journal store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/mailspool/journal"
)

// Store implements journal.Store on MongoDB. Entries are stored as
// documents keyed by entry ID.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       *options
	connected  atomic.Bool
	logger     *slog.Logger
}

var _ journal.Store = (*Store)(nil)

// New creates a store on client. Call Connect to create indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{client: client, opts: o, logger: o.logger}
}

// Connect pings the server and creates indexes.
func (s *Store) Connect(ctx context.Context) error {
	if s.connected.Load() {
		return journal.ErrAlreadyConnected
	}
	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.collection = s.client.Database(s.opts.database).Collection(s.opts.collection)
	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.connected.Store(true)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected. The caller owns the client.
func (s *Store) Close(context.Context) error {
	s.connected.Store(false)
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "spooled_at", Value: -1}}},
		{Keys: bson.D{{Key: "recipients", Value: 1}, {Key: "spooled_at", Value: -1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Record inserts e.
func (s *Store) Record(ctx context.Context, e journal.Entry) error {
	if !s.connected.Load() {
		return journal.ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Recipients == nil {
		e.Recipients = []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return journal.ErrDuplicate
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, opts journal.ListOptions) ([]journal.Entry, error) {
	if !s.connected.Load() {
		return nil, journal.ErrNotConnected
	}
	opts = opts.Normalize()

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().
		SetSort(bson.D{{Key: "spooled_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	cursor, err := s.collection.Find(ctx, listFilter(opts), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find journal entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := make([]journal.Entry, 0, opts.Limit)
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode journal entries: %w", err)
	}
	return entries, nil
}

// listFilter translates opts into a query document.
func listFilter(opts journal.ListOptions) bson.D {
	filter := bson.D{}

	spooled := bson.D{}
	if !opts.Since.IsZero() {
		spooled = append(spooled, bson.E{Key: "$gte", Value: opts.Since})
	}
	if !opts.Until.IsZero() {
		spooled = append(spooled, bson.E{Key: "$lte", Value: opts.Until})
	}
	if len(spooled) > 0 {
		filter = append(filter, bson.E{Key: "spooled_at", Value: spooled})
	}
	if opts.Recipient != "" {
		filter = append(filter, bson.E{Key: "recipients", Value: opts.Recipient})
	}
	return filter
}
