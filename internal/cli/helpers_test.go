package cli

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	blobmemory "github.com/roach88/scoreboard/internal/blob/memory"
	"github.com/roach88/scoreboard/internal/store"
	"github.com/roach88/scoreboard/internal/testutil"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes a running
// watch and the slog default handler make.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// cliEnv runs commands against an injected memory store, a memory blob
// store, a one-second step clock and sequential ids.
type cliEnv struct {
	opts  *RootOptions
	mem   *store.Memory
	blobs *blobmemory.Store
	ids   *testutil.SequentialIDs
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	ids := testutil.NewSequentialIDs("rec")
	mem := store.NewMemory(store.WithIDGenerator(ids))
	t.Cleanup(func() { _ = mem.Close() })

	blobs := blobmemory.New()
	clock := testutil.NewStepClock(testutil.Epoch, time.Second)

	return &cliEnv{
		opts: &RootOptions{
			Adapter: mem,
			Backups: blobs,
			Now:     clock.Now,
			IDs:     ids,
		},
		mem:   mem,
		blobs: blobs,
		ids:   ids,
	}
}

// run executes one command line and returns its stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), t, args...)
}

func (e *cliEnv) runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd := NewRootCommandWithOptions(e.opts)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// mustRun executes a command line that is expected to succeed.
func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "scoreboard %v", args)
	return out
}

// seed submits the standard five-entry fixture:
//
//	rec-0001 Alice     42
//	rec-0002 "  alice " 17.5
//	rec-0003 Bob       50
//	rec-0004 (none)    3
//	rec-0005 ALICE     60
func (e *cliEnv) seed(t *testing.T) {
	t.Helper()
	e.mustRun(t, "submit", "--name", "Alice", "--score", "42")
	e.mustRun(t, "submit", "--name", "  alice ", "--score", "17.5")
	e.mustRun(t, "submit", "--name", "Bob", "--score", "50")
	e.mustRun(t, "submit", "--score", "3")
	e.mustRun(t, "submit", "--name", "ALICE", "--score", "60")
}
