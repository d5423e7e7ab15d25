// Package memory provides an in-memory journal store.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailspool/journal"
)

// Store implements journal.Store in memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	entries   []journal.Entry
	ids       map[string]struct{}
	connected atomic.Bool
}

var _ journal.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// Connect marks the store as ready.
func (s *Store) Connect(context.Context) error {
	if !s.connected.CompareAndSwap(false, true) {
		return journal.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Entries are kept.
func (s *Store) Close(context.Context) error {
	s.connected.Store(false)
	return nil
}

// Record appends e.
func (s *Store) Record(_ context.Context, e journal.Entry) error {
	if !s.connected.Load() {
		return journal.ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[e.ID]; ok {
		return journal.ErrDuplicate
	}
	e.Recipients = slices.Clone(e.Recipients)
	s.ids[e.ID] = struct{}{}
	s.entries = append(s.entries, e)
	return nil
}

// List returns matching entries, newest first.
func (s *Store) List(_ context.Context, opts journal.ListOptions) ([]journal.Entry, error) {
	if !s.connected.Load() {
		return nil, journal.ErrNotConnected
	}
	opts = opts.Normalize()

	s.mu.RLock()
	matched := make([]journal.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if opts.Match(e) {
			e.Recipients = slices.Clone(e.Recipients)
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b journal.Entry) int {
		return b.SpooledAt.Compare(a.SpooledAt)
	})

	if opts.Offset >= len(matched) {
		return []journal.Entry{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}
