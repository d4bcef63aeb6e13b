package compactor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/blob/core"
	"github.com/roach88/scoreboard/internal/blob/memory"
	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.UTC)

func named(id, name string, score float64) entry.Record {
	return entry.Record{ID: id, Name: entry.StringPtr(name), Score: entry.NumberScore(score)}
}

func seeded(t *testing.T, recs ...entry.Record) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	t.Cleanup(func() { mem.Close() })
	for _, r := range recs {
		_, err := mem.Append(context.Background(), r)
		require.NoError(t, err)
	}
	return mem
}

func sampleRecords() []entry.Record {
	prize := entry.Record{
		ID:        "r4",
		Timestamp: json.RawMessage(`1700000000000`),
		Name:      entry.StringPtr("Bob"),
		Score:     entry.NumberScore(12),
		Prize:     json.RawMessage(`{"kind":"mug"}`),
	}
	return []entry.Record{
		named("r1", "Ada", 5),
		named("r2", "ada ", 9),
		named("r3", "Bob", 7),
		prize,
		named("r5", "ADA", 9),
	}
}

func readAll(t *testing.T, s store.Adapter) []entry.Record {
	t.Helper()
	recs, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	return recs
}

func TestCompact_PreviewDoesNotMutate(t *testing.T) {
	mem := seeded(t, sampleRecords()...)
	backup := memory.New()
	before := readAll(t, mem)

	res, err := Compact(context.Background(), mem, Options{Backup: backup})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Empty(t, res.BackupKey)
	assert.Equal(t, 5, res.RawCount)
	assert.Equal(t, 2, res.CompactedCount)
	assert.Equal(t, 3, res.Removed())
	assert.Equal(t, before, readAll(t, mem))

	list, err := backup.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list, "preview writes no archive")
}

func TestCompact_ApplyKeepsWinners(t *testing.T) {
	mem := seeded(t, sampleRecords()...)

	res, err := Compact(context.Background(), mem, Options{Apply: true})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	after := readAll(t, mem)
	require.Len(t, after, 2)

	// Bob first (12), then Ada (9, first-seen r2 beats the later tie r5).
	assert.Equal(t, "r4", after[0].ID)
	assert.Equal(t, "Bob", *after[0].Name)
	assert.JSONEq(t, `{"kind":"mug"}`, string(after[0].Prize))
	assert.Equal(t, `1700000000000`, string(after[0].Timestamp))

	assert.Equal(t, "r2", after[1].ID)
	assert.Equal(t, "ada ", *after[1].Name)
	assert.JSONEq(t, `9`, string(after[1].Score))
}

func TestCompact_IsIdempotent(t *testing.T) {
	mem := seeded(t, sampleRecords()...)

	_, err := Compact(context.Background(), mem, Options{Apply: true})
	require.NoError(t, err)
	first := readAll(t, mem)

	res, err := Compact(context.Background(), mem, Options{Apply: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed())
	assert.Equal(t, first, readAll(t, mem))
}

func TestCompact_ApplyWritesBackupFirst(t *testing.T) {
	raw := sampleRecords()
	mem := seeded(t, raw...)
	backup := memory.New()

	res, err := Compact(context.Background(), mem, Options{
		Apply:  true,
		Backup: backup,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.Equal(t, "compactions/20240309T140506.789Z-raw.json", res.BackupKey)

	info, rc, err := backup.Get(context.Background(), res.BackupKey)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "5", info.Metadata["records"])
	assert.Equal(t, "application/json", info.ContentType)

	var archived []entry.Record
	require.NoError(t, json.NewDecoder(rc).Decode(&archived))
	require.Len(t, archived, len(raw))
	for i := range raw {
		assert.Equal(t, raw[i].ID, archived[i].ID)
		assert.JSONEq(t, string(raw[i].Score), string(archived[i].Score))
	}
}

func TestCompact_BackupFailureAbortsApply(t *testing.T) {
	mem := seeded(t, sampleRecords()...)
	backup := memory.New()
	_, err := backup.Put(context.Background(), BackupKey(fixedNow), bytes.NewReader([]byte("older")), core.PutOptions{})
	require.NoError(t, err)

	res, err := Compact(context.Background(), mem, Options{
		Apply:  true,
		Backup: backup,
		Now:    func() time.Time { return fixedNow },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExists)
	assert.False(t, res.Applied)
	assert.Len(t, readAll(t, mem), 5, "live data untouched")
}

func TestCompact_ReadFailure(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.Close())

	_, err := Compact(context.Background(), mem, Options{Apply: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.Contains(t, err.Error(), "compact: read")
}

// stubAdapter serves a fixed collection and records replaces.
type stubAdapter struct {
	store.Adapter
	recs       []entry.Record
	replaced   []entry.Record
	replaceErr error
}

func (s *stubAdapter) ReadAll(context.Context) ([]entry.Record, error) {
	return s.recs, nil
}

func (s *stubAdapter) ReplaceAll(_ context.Context, recs []entry.Record) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaced = recs
	return nil
}

func TestCompact_ReplaceFailure(t *testing.T) {
	a := &stubAdapter{recs: sampleRecords(), replaceErr: errors.New("disk full")}

	res, err := Compact(context.Background(), a, Options{Apply: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compact: replace: disk full")
	assert.False(t, res.Applied)
}

func TestCompact_MintsIDsForAnonymousWinners(t *testing.T) {
	a := &stubAdapter{recs: []entry.Record{
		{Score: json.RawMessage(`3`)},
		{Name: entry.StringPtr("Ada"), Score: json.RawMessage(`"4"`)},
	}}
	gen := store.NewFixedGenerator("minted-1", "minted-2")

	res, err := Compact(context.Background(), a, Options{Apply: true, NewID: gen.Generate})
	require.NoError(t, err)

	require.Len(t, a.replaced, 2)
	assert.Equal(t, "minted-1", a.replaced[0].ID)
	assert.Equal(t, "Ada", *a.replaced[0].Name)
	assert.Equal(t, "minted-2", a.replaced[1].ID)
	assert.Equal(t, entry.AnonymousName, *a.replaced[1].Name)
	assert.Equal(t, a.replaced, res.Records)
}

func TestCompact_EmptyCollection(t *testing.T) {
	mem := seeded(t)
	backup := memory.New()

	res, err := Compact(context.Background(), mem, Options{Apply: true, Backup: backup, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RawCount)
	assert.Empty(t, res.Records)

	_, rc, err := backup.Get(context.Background(), res.BackupKey)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "[]", string(data))
}

func TestRestore_RoundTrip(t *testing.T) {
	raw := sampleRecords()
	mem := seeded(t, raw...)
	backup := memory.New()

	res, err := Compact(context.Background(), mem, Options{Apply: true, Backup: backup, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	require.Len(t, readAll(t, mem), 2)

	n, err := Restore(context.Background(), mem, backup, res.BackupKey)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	restored := readAll(t, mem)
	require.Len(t, restored, 5)
	for i := range raw {
		assert.Equal(t, raw[i].ID, restored[i].ID)
		assert.Equal(t, *raw[i].Name, *restored[i].Name)
	}
}

func TestRestore_MissingKey(t *testing.T) {
	mem := seeded(t)
	_, err := Restore(context.Background(), mem, memory.New(), "compactions/none-raw.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBackups_FiltersArchives(t *testing.T) {
	backup := memory.New()
	ctx := context.Background()
	_, err := Archive(ctx, backup, sampleRecords(), fixedNow)
	require.NoError(t, err)
	_, err = Archive(ctx, backup, nil, fixedNow.Add(time.Second))
	require.NoError(t, err)
	_, err = backup.Put(ctx, "compactions/notes.txt", bytes.NewReader(nil), core.PutOptions{})
	require.NoError(t, err)

	list, err := Backups(ctx, backup)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, BackupKey(fixedNow), list[0].Key)
	assert.Equal(t, BackupKey(fixedNow.Add(time.Second)), list[1].Key)
}
