package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
	"github.com/roach88/scoreboard/internal/store/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Adapter {
		m := store.NewMemory()
		t.Cleanup(func() { _ = m.Close() })
		return m
	})
}

func TestMemory_FixedIDs(t *testing.T) {
	m := store.NewMemory(store.WithIDGenerator(store.NewFixedGenerator("id-1", "id-2")))
	defer m.Close()

	id, err := m.Append(context.Background(), storetest.Named("a", 1))
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)

	id, err = m.Append(context.Background(), storetest.Named("b", 2))
	require.NoError(t, err)
	assert.Equal(t, "id-2", id)
}

func TestMemory_ReadAllReturnsCopies(t *testing.T) {
	m := store.NewMemory()
	defer m.Close()

	_, err := m.Append(context.Background(), storetest.Named("orig", 1))
	require.NoError(t, err)

	recs, err := m.ReadAll(context.Background())
	require.NoError(t, err)
	*recs[0].Name = "mutated"

	recs, err = m.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "orig", *recs[0].Name)
}

func TestMemory_FailSubscriptions(t *testing.T) {
	m := store.NewMemory()
	defer m.Close()

	c := &storetest.Collector{}
	_, err := m.Subscribe(c.OnSnapshot, c.OnError)
	require.NoError(t, err)
	c.WaitForLen(t, 0)

	boom := errors.New("connection reset")
	m.FailSubscriptions(boom)

	require.Eventually(t, func() bool { return len(c.Errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Errors()[0], boom)

	// A new subscription still works after a failure.
	c2 := &storetest.Collector{}
	sub, err := m.Subscribe(c2.OnSnapshot, c2.OnError)
	require.NoError(t, err)
	defer sub.Close()
	c2.WaitForLen(t, 0)
}

func TestCheckUniqueIDs(t *testing.T) {
	ok := []entry.Record{{ID: "a"}, {ID: "b"}, {}, {}}
	assert.NoError(t, store.CheckUniqueIDs(ok))

	err := store.CheckUniqueIDs([]entry.Record{{ID: "a"}, {ID: "a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	assert.Contains(t, err.Error(), `"a"`)
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := store.NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := store.NewID()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
