// Package postgres provides a PostgreSQL journal store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rbaliyan/mailspool/journal"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// Store implements journal.Store on PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected atomic.Bool
	logger    *slog.Logger
}

var _ journal.Store = (*Store)(nil)

// New creates a store on db. Call Connect to create the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{db: db, opts: o, logger: o.logger}
}

// NewFromDB wraps a database/sql connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect pings the database and creates the table and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !s.connected.CompareAndSwap(false, true) {
		return journal.ErrAlreadyConnected
	}
	if s.db == nil {
		s.connected.Store(false)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.connected.Store(false)
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		s.connected.Store(false)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "table", s.opts.table)
	return nil
}

// Close marks the store as disconnected. The caller owns the database handle.
func (s *Store) Close(context.Context) error {
	s.connected.Store(false)
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			path TEXT NOT NULL,
			recipients TEXT[] NOT NULL DEFAULT '{}',
			recipient_count INTEGER NOT NULL DEFAULT 0,
			size BIGINT NOT NULL DEFAULT 0,
			archive_uri TEXT NOT NULL DEFAULT '',
			spooled_at TIMESTAMPTZ NOT NULL
		)
	`, s.opts.table)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_spooled ON %s(spooled_at DESC)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_recipients ON %s USING GIN(recipients)`, s.opts.table, s.opts.table),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

// row is the database representation of a journal.Entry.
type row struct {
	ID             string         `db:"id"`
	Path           string         `db:"path"`
	Recipients     pq.StringArray `db:"recipients"`
	RecipientCount int            `db:"recipient_count"`
	Size           int64          `db:"size"`
	ArchiveURI     string         `db:"archive_uri"`
	SpooledAt      time.Time      `db:"spooled_at"`
}

func toRow(e journal.Entry) row {
	return row{
		ID:             e.ID,
		Path:           e.Path,
		Recipients:     pq.StringArray(e.Recipients),
		RecipientCount: e.RecipientCount,
		Size:           e.Size,
		ArchiveURI:     e.ArchiveURI,
		SpooledAt:      e.SpooledAt,
	}
}

func (r row) entry() journal.Entry {
	return journal.Entry{
		ID:             r.ID,
		Path:           r.Path,
		Recipients:     []string(r.Recipients),
		RecipientCount: r.RecipientCount,
		Size:           r.Size,
		ArchiveURI:     r.ArchiveURI,
		SpooledAt:      r.SpooledAt,
	}
}

// Record inserts e.
func (s *Store) Record(ctx context.Context, e journal.Entry) error {
	if !s.connected.Load() {
		return journal.ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, path, recipients, recipient_count, size, archive_uri, spooled_at)
		VALUES (:id, :path, :recipients, :recipient_count, :size, :archive_uri, :spooled_at)
	`, s.opts.table)

	if _, err := s.db.NamedExecContext(ctx, query, toRow(e)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query, args := s.listQuery(opts.Normalize())
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	entries := make([]journal.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

// listQuery builds the SELECT for opts, which must be normalized.
func (s *Store) listQuery(opts journal.ListOptions) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !opts.Since.IsZero() {
		conds = append(conds, "spooled_at >= "+arg(opts.Since))
	}
	if !opts.Until.IsZero() {
		conds = append(conds, "spooled_at <= "+arg(opts.Until))
	}
	if opts.Recipient != "" {
		conds = append(conds, arg(opts.Recipient)+" = ANY(recipients)")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, path, recipients, recipient_count, size, archive_uri, spooled_at FROM %s", s.opts.table)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY spooled_at DESC, id")
	fmt.Fprintf(&b, " LIMIT %s OFFSET %s", arg(opts.Limit), arg(opts.Offset))
	return b.String(), args
}
