package pebblestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
	"github.com/roach88/scoreboard/internal/store/storetest"
)

// createTestStore opens a store in a fresh temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Adapter { return createTestStore(t) })
}

// writeRaw stores payload at the next seq without encoding it as a record.
func writeRaw(t *testing.T, a store.Adapter, id string, payload []byte) {
	t.Helper()
	s := a.(*Store)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	next := s.seq + 1
	require.NoError(t, b.Set(recordKey(next), payload, nil))
	require.NoError(t, b.Set(idKey(id), encodeSeq(next), nil))
	require.NoError(t, b.Set(seqKey, encodeSeq(next), nil))
	require.NoError(t, b.Commit(pebble.Sync))
	s.seq = next
}

func TestForeignRows(t *testing.T) {
	storetest.RunForeignRows(t, func(t *testing.T) store.Adapter { return createTestStore(t) }, writeRaw)
}

func TestReopen_KeepsRecordsAndSeq(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pebble")
	ctx := context.Background()

	s1, err := Open(dir)
	require.NoError(t, err)
	_, err = s1.Append(ctx, storetest.Named("ana", 1))
	require.NoError(t, err)
	_, err = s1.Append(ctx, storetest.Named("bob", 2))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, uint64(2), s2.seq)

	_, err = s2.Append(ctx, storetest.Named("cy", 3))
	require.NoError(t, err)

	recs, err := s2.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "ana", *recs[0].Name)
	assert.Equal(t, "cy", *recs[2].Name)
}

func TestReplaceAll_ClearsIDIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	old := storetest.Named("old", 1)
	old.ID = "old-id"
	_, err := s.Append(ctx, old)
	require.NoError(t, err)

	require.NoError(t, s.ReplaceAll(ctx, []entry.Record{storetest.Named("new", 2)}))

	// The replaced id is free again.
	_, err = s.Append(ctx, old)
	require.NoError(t, err)
}

func TestReplaceAll_MintsMissingIDs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pebble"), WithIDGenerator(store.NewFixedGenerator("m1")))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ReplaceAll(context.Background(), []entry.Record{storetest.Named("x", 1)}))

	recs, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].ID)
}

func TestKeys(t *testing.T) {
	k := recordKey(1)
	assert.Equal(t, []byte{'r', '/', 0, 0, 0, 0, 0, 0, 0, 1}, k)
	assert.Less(t, string(recordKey(1)), string(recordKey(256)))
	assert.Less(t, string(recordKey(1<<40)), string(recordEnd))
	assert.Equal(t, "i/abc", string(idKey("abc")))
}
