package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClockAdvances(t *testing.T) {
	c := NewStepClock(Epoch, time.Second)

	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek(), "peek must not advance")
}

func TestStepClockZeroStepIsFrozen(t *testing.T) {
	c := NewStepClock(Epoch, 0)
	assert.Equal(t, c.Now(), c.Now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("entry")
	assert.Equal(t, "entry-0001", g.Generate())
	assert.Equal(t, "entry-0002", g.Generate())

	assert.Equal(t, "rec-0001", NewSequentialIDs("").Generate())
}

func TestSequentialIDsConcurrent(t *testing.T) {
	g := NewSequentialIDs("c")

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
}
