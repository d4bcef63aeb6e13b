package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/scoreboard/internal/entry"
)

// Compile-time contract assertion.
var _ Adapter = (*Memory)(nil)

// Memory is an in-process Adapter. Nothing survives Close.
type Memory struct {
	mu      sync.RWMutex
	records []entry.Record
	ids     map[string]struct{}
	closed  bool

	gen  IDGenerator
	feed *Feed
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithIDGenerator overrides the id generator used for records without an id.
func WithIDGenerator(gen IDGenerator) MemoryOption {
	return func(m *Memory) {
		m.gen = gen
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		ids: make(map[string]struct{}),
		gen: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.feed = NewFeed(m.ReadAll)
	return m
}

// Append stores a copy of rec.
func (m *Memory) Append(_ context.Context, rec entry.Record) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}

	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = m.gen.Generate()
	}
	if _, ok := m.ids[rec.ID]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("append: %w", &DuplicateIDError{ID: rec.ID})
	}
	m.records = append(m.records, rec)
	m.ids[rec.ID] = struct{}{}
	m.mu.Unlock()

	m.feed.Notify()
	return rec.ID, nil
}

// ReadAll returns copies of every record in append order.
func (m *Memory) ReadAll(_ context.Context) ([]entry.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := make([]entry.Record, len(m.records))
	for i, r := range m.records {
		out[i] = r.Clone()
	}
	return out, nil
}

// Subscribe registers a change feed subscription.
func (m *Memory) Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return m.feed.Subscribe(onSnapshot, onError)
}

// ReplaceAll swaps the whole collection in one step.
func (m *Memory) ReplaceAll(_ context.Context, recs []entry.Record) error {
	next := make([]entry.Record, len(recs))
	ids := make(map[string]struct{}, len(recs))
	for i, r := range recs {
		r = r.Clone()
		if r.ID == "" {
			r.ID = m.gen.Generate()
		}
		if _, ok := ids[r.ID]; ok {
			return fmt.Errorf("replace all: %w", &DuplicateIDError{ID: r.ID})
		}
		ids[r.ID] = struct{}{}
		next[i] = r
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.records = next
	m.ids = ids
	m.mu.Unlock()

	m.feed.Notify()
	return nil
}

// Close drops the contents and ends live subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.feed.Close()
	return nil
}

// FailSubscriptions ends all live subscriptions with err, as a dropped
// connection would. Used to exercise error paths.
func (m *Memory) FailSubscriptions(err error) {
	m.feed.Fail(err)
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	return m.feed.Len()
}
