// Package pebblestore is the local-mode store: a Pebble key-value database
// on the same device, owned by a single process.
//
// Key layout:
//
//	r/<seq: 8 bytes big-endian>  → record JSON (append order)
//	i/<id>                       → seq, for duplicate-id checks
//	m/seq                        → last assigned seq
//
// Every write is one synced batch. ReplaceAll range-deletes both the r/ and
// i/ spaces and writes the new collection in the same batch, so readers see
// either the old collection or the new one.
//
// Change notification is in-process only; a second process opening the same
// directory is rejected by Pebble's lock file.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
)

// Compile-time contract assertion.
var _ store.Adapter = (*Store)(nil)

var (
	recordPrefix = []byte("r/")
	recordEnd    = []byte("r0")
	idPrefix     = []byte("i/")
	idEnd        = []byte("i0")
	seqKey       = []byte("m/seq")
)

// Store is a Pebble-backed store.Adapter.
type Store struct {
	// mu serializes writers and keeps Close from racing open iterators.
	mu     sync.RWMutex
	db     *pebble.DB
	seq    uint64
	gen    store.IDGenerator
	feed   *store.Feed
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the id generator used for records without an id.
func WithIDGenerator(gen store.IDGenerator) Option {
	return func(s *Store) {
		s.gen = gen
	}
}

// Open opens or creates the database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}

	seq, err := loadSeq(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, seq: seq, gen: store.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(s)
	}
	s.feed = store.NewFeed(s.ReadAll)

	slog.Debug("pebble store opened", "dir", dir, "seq", seq)
	return s, nil
}

// Append writes rec in one synced batch.
func (s *Store) Append(_ context.Context, rec entry.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", store.ErrClosed
	}
	if rec.ID == "" {
		rec.ID = s.gen.Generate()
	}

	exists, err := s.hasID(rec.ID)
	if err != nil {
		return "", fmt.Errorf("append: %w", err)
	}
	if exists {
		return "", fmt.Errorf("append: %w", &store.DuplicateIDError{ID: rec.ID})
	}

	b := s.db.NewBatch()
	defer b.Close()

	next := s.seq + 1
	if err := putRecord(b, next, rec); err != nil {
		return "", fmt.Errorf("append: %w", err)
	}
	if err := b.Set(seqKey, encodeSeq(next), nil); err != nil {
		return "", fmt.Errorf("append: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("append: commit: %w", err)
	}
	s.seq = next

	s.feed.Notify()
	return rec.ID, nil
}

// ReadAll iterates the record space in seq order.
func (s *Store) ReadAll(_ context.Context) ([]entry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: recordPrefix,
		UpperBound: recordEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	defer it.Close()

	var out []entry.Record
	for it.First(); it.Valid(); it.Next() {
		rec, err := entry.Unmarshal(it.Value())
		if err != nil {
			slog.Warn("skipping unreadable record", "key", fmt.Sprintf("%x", it.Key()), "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	if out == nil {
		out = []entry.Record{}
	}
	return out, nil
}

// Subscribe registers a change feed subscription.
func (s *Store) Subscribe(onSnapshot store.SnapshotFunc, onError store.ErrorFunc) (store.Subscription, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}
	return s.feed.Subscribe(onSnapshot, onError)
}

// ReplaceAll swaps the collection in a single synced batch.
func (s *Store) ReplaceAll(_ context.Context, recs []entry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	next := make([]entry.Record, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = s.gen.Generate()
		}
		next[i] = r
	}
	if err := store.CheckUniqueIDs(next); err != nil {
		return fmt.Errorf("replace all: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(recordPrefix, recordEnd, nil); err != nil {
		return fmt.Errorf("replace all: %w", err)
	}
	if err := b.DeleteRange(idPrefix, idEnd, nil); err != nil {
		return fmt.Errorf("replace all: %w", err)
	}

	seq := s.seq
	for _, r := range next {
		seq++
		if err := putRecord(b, seq, r); err != nil {
			return fmt.Errorf("replace all: %w", err)
		}
	}
	if err := b.Set(seqKey, encodeSeq(seq), nil); err != nil {
		return fmt.Errorf("replace all: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("replace all: commit: %w", err)
	}
	s.seq = seq

	slog.Info("pebble store replaced", "records", len(next))
	s.feed.Notify()
	return nil
}

// Close ends subscriptions and closes the database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.db.Close()
	s.mu.Unlock()

	s.feed.Close()
	return err
}

func (s *Store) hasID(id string) (bool, error) {
	_, closer, err := s.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

func putRecord(b *pebble.Batch, seq uint64, rec entry.Record) error {
	data, err := entry.Marshal(rec)
	if err != nil {
		return err
	}
	if err := b.Set(recordKey(seq), data, nil); err != nil {
		return err
	}
	return b.Set(idKey(rec.ID), encodeSeq(seq), nil)
}

func loadSeq(db *pebble.DB) (uint64, error) {
	v, closer, err := db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load seq: %w", err)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, fmt.Errorf("load seq: corrupt value of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func recordKey(seq uint64) []byte {
	k := make([]byte, len(recordPrefix)+8)
	copy(k, recordPrefix)
	binary.BigEndian.PutUint64(k[len(recordPrefix):], seq)
	return k
}

func idKey(id string) []byte {
	return append(append([]byte{}, idPrefix...), id...)
}

func encodeSeq(seq uint64) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, seq)
	return v
}
