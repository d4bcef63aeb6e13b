// Package pgstore is the networked-mode store: a Postgres table shared by
// any number of writers, with LISTEN/NOTIFY for push delivery.
//
// Every Append and ReplaceAll notifies the change channel inside its own
// transaction, so the notification is only sent if the write commits. A
// subscription holds one dedicated connection running LISTEN and re-reads the
// full table on each notification; bursts coalesce into one re-read.
//
// ReplaceAll deletes and re-inserts in one transaction, which readers observe
// atomically. Losing the listener connection ends live subscriptions through
// onError; reconnecting is the caller's decision.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
)

// DefaultTable is the table used when no WithTable option is given.
const DefaultTable = "scoreboard_records"

// Compile-time contract assertion.
var _ store.Adapter = (*Store)(nil)

// Store is a Postgres-backed store.Adapter.
type Store struct {
	pool    *pgxpool.Pool
	table   string
	channel string
	gen     store.IDGenerator
	feed    *store.Feed

	mu           sync.Mutex
	closed       bool
	stopListener context.CancelFunc
	listenerDone chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table name. The notification channel is derived from it.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithIDGenerator overrides the id generator used for records without an id.
func WithIDGenerator(gen store.IDGenerator) Option {
	return func(s *Store) {
		s.gen = gen
	}
}

// Open connects to dsn and ensures the table exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pgstore: dsn required")
	}

	s := &Store{table: DefaultTable, gen: store.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(s)
	}
	s.channel = s.table + "_changed"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.pool = pool

	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.feed = store.NewFeed(s.ReadAll)
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		payload JSONB NOT NULL
	)`, s.ident())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure table %s: %w", s.table, err)
	}
	return nil
}

// Append inserts rec and notifies listeners in the same transaction.
func (s *Store) Append(ctx context.Context, rec entry.Record) (string, error) {
	if s.isClosed() {
		return "", store.ErrClosed
	}
	if rec.ID == "" {
		rec.ID = s.gen.Generate()
	}
	payload, err := entry.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("append: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, s.ident()), rec.ID, string(payload))
	if err != nil {
		return "", fmt.Errorf("append: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("append: %w", &store.DuplicateIDError{ID: rec.ID})
	}
	if err := s.notify(ctx, tx); err != nil {
		return "", fmt.Errorf("append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("append: commit: %w", err)
	}
	return rec.ID, nil
}

// ReadAll returns every record ordered by seq.
func (s *Store) ReadAll(ctx context.Context) ([]entry.Record, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT payload::text FROM %s ORDER BY seq ASC`, s.ident()))
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}

	out := make([]entry.Record, 0, len(payloads))
	for i, p := range payloads {
		rec, err := entry.Unmarshal([]byte(p))
		if err != nil {
			slog.Warn("skipping unreadable record", "table", s.table, "row", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Subscribe makes sure the listener is running before registering, so no
// change between the initial snapshot and LISTEN is lost.
func (s *Store) Subscribe(onSnapshot store.SnapshotFunc, onError store.ErrorFunc) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	if err := s.startListenerLocked(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return s.feed.Subscribe(onSnapshot, onError)
}

// ReplaceAll swaps the table contents in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, recs []entry.Record) error {
	if s.isClosed() {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace all: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.ident())); err != nil {
		return fmt.Errorf("replace all: delete: %w", err)
	}

	batch := &pgx.Batch{}
	insert := fmt.Sprintf(`INSERT INTO %s (id, payload) VALUES ($1, $2::jsonb)`, s.ident())
	for _, r := range next {
		payload, err := entry.Marshal(r)
		if err != nil {
			return fmt.Errorf("replace all: %w", err)
		}
		batch.Queue(insert, r.ID, string(payload))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("replace all: insert: %w", err)
		}
	}

	if err := s.notify(ctx, tx); err != nil {
		return fmt.Errorf("replace all: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace all: commit: %w", err)
	}

	slog.Info("postgres store replaced", "table", s.table, "records", len(next))
	return nil
}

// Authorize checks that the pool can reach the server before a write.
func (s *Store) Authorize(ctx context.Context) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return nil
}

// Close stops the listener, ends subscriptions and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopListener, s.listenerDone
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	s.feed.Close()
	s.pool.Close()
	return nil
}

// DropTable removes the table. Used by tests that create throwaway tables.
func (s *Store) DropTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.ident()))
	return err
}

func (s *Store) notify(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, '')`, s.channel); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// startListenerLocked runs LISTEN on a dedicated connection. Caller holds s.mu.
func (s *Store) startListenerLocked() error {
	if s.stopListener != nil {
		select {
		case <-s.listenerDone:
			// Previous listener died; replace it.
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		cancel()
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}

	done := make(chan struct{})
	s.stopListener = cancel
	s.listenerDone = done

	go func() {
		defer close(done)
		err := s.listen(ctx, conn)
		if ctx.Err() != nil {
			// Shutdown: leave the pooled connection clean.
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
			return
		}
		// The connection is suspect; keep it out of the pool.
		_ = conn.Hijack().Close(context.Background())
		slog.Error("postgres listener stopped", "channel", s.channel, "error", err)
		s.feed.Fail(fmt.Errorf("listen %s: %w", s.channel, err))
	}()

	slog.Debug("postgres listener started", "channel", s.channel)
	return nil
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		slog.Debug("postgres change notification", "channel", n.Channel, "pid", n.PID)
		s.feed.Notify()
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}
