package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
	"github.com/roach88/scoreboard/internal/store/storetest"
)

// createTestStore opens a store backed by a temp file.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "test.db"), opts...)
}

func openAt(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Adapter {
		return createTestStore(t, WithPollInterval(20*time.Millisecond))
	})
}

func TestForeignRows(t *testing.T) {
	storetest.RunForeignRows(t,
		func(t *testing.T) store.Adapter {
			return createTestStore(t, WithPollInterval(20*time.Millisecond))
		},
		func(t *testing.T, a store.Adapter, id string, payload []byte) {
			_, err := a.(*Store).db.Exec(`INSERT INTO records (id, payload) VALUES (?, ?)`, id, string(payload))
			require.NoError(t, err)
		})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s := openAt(t, path)
	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openAt(t, path)
	_, err := s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestPayloadStoredVerbatim(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Append(context.Background(), entry.Record{ID: "x", Name: entry.StringPtr("Ana")})
	require.NoError(t, err)

	var payload string
	require.NoError(t, s.db.QueryRow("SELECT payload FROM records WHERE id = 'x'").Scan(&payload))
	assert.JSONEq(t, `{"id":"x","name":"Ana"}`, payload)
}

func TestWatch_SeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	reader := openAt(t, path, WithPollInterval(10*time.Millisecond))
	writer := openAt(t, path)

	c := &storetest.Collector{}
	sub, err := reader.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	defer sub.Close()
	c.WaitForLen(t, 0)

	_, err = writer.Append(context.Background(), storetest.Named("remote", 5))
	require.NoError(t, err)

	c.WaitFor(t, func(recs []entry.Record) bool {
		return len(recs) == 1 && *recs[0].Name == "remote"
	})
	assert.Empty(t, c.Errors())
}

func TestWatch_SeesOtherProcessReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	reader := openAt(t, path, WithPollInterval(10*time.Millisecond))
	writer := openAt(t, path)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := writer.Append(ctx, storetest.Named("dup", float64(i)))
		require.NoError(t, err)
	}

	c := &storetest.Collector{}
	sub, err := reader.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	defer sub.Close()
	c.WaitForLen(t, 3)

	require.NoError(t, writer.ReplaceAll(ctx, []entry.Record{storetest.Named("dup", 2)}))
	c.WaitForLen(t, 1)
}

func TestConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openAt(t, path)
	b := openAt(t, path)
	ctx := context.Background()

	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := a.Append(ctx, storetest.Named("a", 1))
			errs <- err
		}()
		go func() {
			_, err := b.Append(ctx, storetest.Named("b", 1))
			errs <- err
		}()
	}
	for i := 0; i < 40; i++ {
		require.NoError(t, <-errs)
	}

	recs, err := a.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 40)
}
