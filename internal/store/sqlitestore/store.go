package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty file
// 1 - records table
const currentSchemaVersion = 1

// DefaultPollInterval is how often the watcher checks for writes made by
// other processes.
const DefaultPollInterval = 250 * time.Millisecond

// Compile-time contract assertion.
var _ store.Adapter = (*Store)(nil)

// Store is a SQLite-backed store.Adapter.
type Store struct {
	db    *sql.DB
	watch *sql.DB
	path  string

	gen          store.IDGenerator
	pollInterval time.Duration
	feed         *store.Feed

	mu          sync.Mutex
	closed      bool
	stopPolling context.CancelFunc
	pollDone    chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the id generator used for records without an id.
func WithIDGenerator(gen store.IDGenerator) Option {
	return func(s *Store) {
		s.gen = gen
	}
}

// WithPollInterval sets how often other processes' writes are detected.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Open creates or opens the database at path, applying pragmas and
// migrations. Safe to call from several processes on the same file.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	watch, err := openDB(path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open watch connection: %w", err)
	}

	s := &Store{
		db:           db,
		watch:        watch,
		path:         path,
		gen:          store.UUIDv7Generator{},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.feed = store.NewFeed(s.ReadAll)

	return s, nil
}

// openDB opens one single-connection handle with the required pragmas.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection per handle: SQLite allows a single writer, and
	// data_version is only meaningful on a stable connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

// Append inserts rec. Uses ON CONFLICT(id) DO NOTHING and reports a
// conflict as a duplicate id.
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

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, payload)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, string(payload))
	if err != nil {
		return "", fmt.Errorf("append: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("append: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return "", fmt.Errorf("append: %w", &store.DuplicateIDError{ID: rec.ID})
	}

	s.feed.Notify()
	return rec.ID, nil
}

// ReadAll returns every record ordered by seq.
func (s *Store) ReadAll(ctx context.Context) ([]entry.Record, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM records ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	defer rows.Close()

	out := []entry.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("read all: scan: %w", err)
		}
		rec, err := entry.Unmarshal([]byte(payload))
		if err != nil {
			slog.Warn("skipping unreadable record", "path", s.path, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	return out, nil
}

// Subscribe registers a change feed subscription and starts the
// cross-process watcher if it is not already running.
func (s *Store) Subscribe(onSnapshot store.SnapshotFunc, onError store.ErrorFunc) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	sub, err := s.feed.Subscribe(onSnapshot, onError)
	if err != nil {
		return nil, err
	}
	s.startPollingLocked()
	return sub, nil
}

// ReplaceAll swaps the collection inside one transaction.
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace all: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("replace all: delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (id, payload) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("replace all: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range next {
		payload, err := entry.Marshal(r)
		if err != nil {
			return fmt.Errorf("replace all: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, string(payload)); err != nil {
			return fmt.Errorf("replace all: insert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace all: commit: %w", err)
	}

	slog.Info("sqlite store replaced", "path", s.path, "records", len(next))
	s.feed.Notify()
	return nil
}

// Close stops the watcher, ends subscriptions and closes both handles.
// Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopPolling, s.pollDone
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	s.feed.Close()

	werr := s.watch.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return werr
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// startPollingLocked launches the data_version watcher. Caller holds s.mu.
func (s *Store) startPollingLocked() {
	if s.stopPolling != nil {
		select {
		case <-s.pollDone:
			// Previous watcher failed; start a fresh one.
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopPolling = cancel
	s.pollDone = done

	go func() {
		defer close(done)
		if err := s.poll(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sqlite watcher stopped", "path", s.path, "error", err)
			s.feed.Fail(fmt.Errorf("watch %s: %w", s.path, err))
		}
	}()
}

// poll checks data_version until ctx is cancelled or a query fails.
func (s *Store) poll(ctx context.Context) error {
	conn, err := s.watch.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		var version int64
		if err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&version); err != nil {
			return err
		}
		if last >= 0 && version != last {
			slog.Debug("sqlite change detected", "path", s.path, "data_version", version)
			s.feed.Notify()
		}
		last = version

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
