// Package storetest is the conformance suite every store.Adapter must pass.
//
// Adapter packages call Run from their own tests:
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Adapter { return openTestStore(t) })
//	}
//
// The factory must return a fresh, empty adapter for every subtest. The
// suite closes adapters itself where it needs to; factories should still
// register their own cleanup.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
)

// Factory opens a fresh, empty adapter.
type Factory func(t *testing.T) store.Adapter

// WaitTimeout bounds how long the suite waits for a pushed snapshot.
// Polling adapters may need to raise it.
var WaitTimeout = 5 * time.Second

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	t.Run("AppendMintsID", func(t *testing.T) { testAppendMintsID(t, open(t)) })
	t.Run("AppendKeepsID", func(t *testing.T) { testAppendKeepsID(t, open(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, open(t)) })
	t.Run("RoundTripSubsets", func(t *testing.T) { testRoundTripSubsets(t, open(t)) })
	t.Run("InitialSnapshot", func(t *testing.T) { testInitialSnapshot(t, open(t)) })
	t.Run("SnapshotAfterAppend", func(t *testing.T) { testSnapshotAfterAppend(t, open(t)) })
	t.Run("ReplaceAll", func(t *testing.T) { testReplaceAll(t, open(t)) })
	t.Run("ReplaceAllRejectsDuplicates", func(t *testing.T) { testReplaceAllRejectsDuplicates(t, open(t)) })
	t.Run("SubscriptionClose", func(t *testing.T) { testSubscriptionClose(t, open(t)) })
	t.Run("CloseEndsSubscriptions", func(t *testing.T) { testCloseEndsSubscriptions(t, open(t)) })
}

// RawWriter stores payload under id in the adapter's backing storage without
// going through Append, the way another program sharing the store would.
type RawWriter func(t *testing.T, a store.Adapter, id string, payload []byte)

// RunForeignRows checks that rows the adapter did not write itself never make
// the collection unreadable. Adapters that can be written to directly call it
// alongside Run.
func RunForeignRows(t *testing.T, open Factory, write RawWriter) {
	t.Run("LenientFields", func(t *testing.T) { testLenientFields(t, open(t), write) })
	t.Run("SkipsNonObjects", func(t *testing.T) { testSkipsNonObjects(t, open(t), write) })
}

// Collector records deliveries from a subscription.
type Collector struct {
	mu        sync.Mutex
	snapshots [][]entry.Record
	errs      []error
}

// OnSnapshot is a store.SnapshotFunc.
func (c *Collector) OnSnapshot(recs []entry.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, recs)
}

// OnError is a store.ErrorFunc.
func (c *Collector) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Count returns the number of snapshots delivered so far.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

// Last returns the most recent snapshot, or nil.
func (c *Collector) Last() []entry.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshots) == 0 {
		return nil
	}
	return c.snapshots[len(c.snapshots)-1]
}

// Errors returns the errors delivered so far.
func (c *Collector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// WaitFor blocks until the latest snapshot satisfies pred.
func (c *Collector) WaitFor(t *testing.T, pred func([]entry.Record) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.snapshots) > 0 && pred(c.snapshots[len(c.snapshots)-1])
	}, WaitTimeout, 10*time.Millisecond)
}

// WaitForLen blocks until the latest snapshot has n records.
func (c *Collector) WaitForLen(t *testing.T, n int) {
	t.Helper()
	c.WaitFor(t, func(recs []entry.Record) bool { return len(recs) == n })
}

// Named builds a record with a name and numeric score.
func Named(name string, score float64) entry.Record {
	return entry.Record{Name: entry.StringPtr(name), Score: entry.NumberScore(score)}
}

func testAppendMintsID(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	id, err := s.Append(ctx, Named("ana", 1))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
}

func testAppendKeepsID(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	rec := Named("bob", 2)
	rec.ID = "given-id"
	id, err := s.Append(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "given-id", id)
}

func testDuplicateID(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	rec := Named("cy", 3)
	rec.ID = "dup"
	_, err := s.Append(ctx, rec)
	require.NoError(t, err)

	_, err = s.Append(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicateID), "got %v", err)

	recs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func testRoundTripSubsets(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	in := []entry.Record{
		{ID: "empty"},
		{ID: "name-only", Name: entry.StringPtr("Dee")},
		{ID: "blank-name", Name: entry.StringPtr("")},
		{ID: "string-score", Score: json.RawMessage(`"12"`)},
		{ID: "junk-score", Score: json.RawMessage(`"junk"`)},
		{ID: "full", Name: entry.StringPtr("Eve"), Score: json.RawMessage(`4.5`), Timestamp: json.RawMessage(`1700000000000`), Prize: json.RawMessage(`{"kind":"badge","tier":2}`)},
	}
	for _, r := range in {
		_, err := s.Append(ctx, r)
		require.NoError(t, err)
	}

	got, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, got[i].ID)
		assert.Equal(t, in[i].Name, got[i].Name, "record %s", in[i].ID)
		assertRawEqual(t, in[i].Score, got[i].Score, "score of %s", in[i].ID)
		assertRawEqual(t, in[i].Timestamp, got[i].Timestamp, "timestamp of %s", in[i].ID)
		assertRawEqual(t, in[i].Prize, got[i].Prize, "prize of %s", in[i].ID)
	}
}

func testInitialSnapshot(t *testing.T, s store.Adapter) {
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Append(ctx, Named(name, 1))
		require.NoError(t, err)
	}

	c := &Collector{}
	sub, err := s.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	c.WaitForLen(t, 3)
	assert.Empty(t, c.Errors())
}

func testSnapshotAfterAppend(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	c := &Collector{}
	sub, err := s.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	c.WaitForLen(t, 0)

	_, err = s.Append(ctx, Named("late", 9))
	require.NoError(t, err)

	c.WaitFor(t, func(recs []entry.Record) bool {
		return len(recs) == 1 && recs[0].Name != nil && *recs[0].Name == "late"
	})
}

func testReplaceAll(t *testing.T, s store.Adapter) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.Append(ctx, Named("same", float64(i)))
		require.NoError(t, err)
	}

	c := &Collector{}
	sub, err := s.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	c.WaitForLen(t, 4)

	replacement := Named("same", 3)
	replacement.ID = "winner"
	require.NoError(t, s.ReplaceAll(ctx, []entry.Record{replacement}))

	got, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "winner", got[0].ID)

	c.WaitFor(t, func(recs []entry.Record) bool {
		return len(recs) == 1 && recs[0].ID == "winner"
	})

	_, err = s.Append(ctx, Named("after", 1))
	require.NoError(t, err)
	got, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "winner", got[0].ID)
}

func testReplaceAllRejectsDuplicates(t *testing.T, s store.Adapter) {
	ctx := context.Background()
	_, err := s.Append(ctx, Named("keep", 1))
	require.NoError(t, err)

	a := Named("x", 1)
	a.ID = "same"
	b := Named("y", 2)
	b.ID = "same"
	err = s.ReplaceAll(ctx, []entry.Record{a, b})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicateID), "got %v", err)

	got, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1, "failed replace must leave the old collection intact")
	assert.Equal(t, "keep", *got[0].Name)
}

func testSubscriptionClose(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	c := &Collector{}
	sub, err := s.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	c.WaitForLen(t, 0)

	require.NoError(t, sub.Close())
	before := c.Count()

	_, err = s.Append(ctx, Named("unseen", 1))
	require.NoError(t, err)

	// Give a misbehaving adapter the chance to deliver.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, c.Count())
	assert.Empty(t, c.Errors())
}

func testCloseEndsSubscriptions(t *testing.T, s store.Adapter) {
	ctx := context.Background()

	c := &Collector{}
	_, err := s.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	c.WaitForLen(t, 0)

	require.NoError(t, s.Close())

	require.Eventually(t, func() bool { return len(c.Errors()) == 1 }, WaitTimeout, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.Errors(), 1, "onError fires at most once")

	_, err = s.Append(ctx, Named("closed", 1))
	assert.Error(t, err)
}

// assertRawEqual compares raw JSON, treating absent and empty alike and
// ignoring insignificant whitespace.
func assertRawEqual(t *testing.T, want, got json.RawMessage, msgAndArgs ...any) {
	t.Helper()
	if len(want) == 0 {
		assert.Empty(t, got, msgAndArgs...)
		return
	}
	assert.JSONEq(t, string(want), string(got), msgAndArgs...)
}

func testLenientFields(t *testing.T, s store.Adapter, write RawWriter) {
	ctx := context.Background()

	_, err := s.Append(ctx, Named("Ana", 10))
	require.NoError(t, err)
	write(t, s, "bad", []byte(`{"id":"bad","name":42,"score":7}`))
	write(t, s, "1", []byte(`{"id":1,"name":true,"score":3}`))

	recs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "Ana", *recs[0].Name)
	assert.Equal(t, "bad", recs[1].ID)
	require.NotNil(t, recs[1].Name)
	assert.Equal(t, "42", *recs[1].Name)
	assert.Equal(t, "1", recs[2].ID)
	assert.Nil(t, recs[2].Name)
	assert.Equal(t, entry.AnonymousName, entry.DisplayName(recs[2].Name))
}

func testSkipsNonObjects(t *testing.T, s store.Adapter, write RawWriter) {
	ctx := context.Background()

	_, err := s.Append(ctx, Named("Ana", 10))
	require.NoError(t, err)
	write(t, s, "array", []byte(`[1,2,3]`))
	write(t, s, "string", []byte(`"oops"`))
	_, err = s.Append(ctx, Named("Bob", 5))
	require.NoError(t, err)

	recs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Ana", *recs[0].Name)
	assert.Equal(t, "Bob", *recs[1].Name)

	c := &Collector{}
	sub, err := s.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	defer sub.Close()

	c.WaitForLen(t, 2)
	assert.Empty(t, c.Errors())
}
