package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/compactor"
	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/gateway"
	"github.com/roach88/scoreboard/internal/testutil"
)

const seededBackupKey = "compactions/20231114T221325.000Z-raw.json"

func TestSubmitText(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "submit", "--name", "Alice", "--score", "42")
	out += env.mustRun(t, "submit", "--name", "  alice ", "--score", "17.5")

	testutil.Golden(t).Assert(t, "submit_text", []byte(out))
}

func TestSubmitJSON(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "submit", "--name", "Bob", "--score", "50")

	out := env.mustRun(t, "--format", "json", "submit", "--name", "alice", "--score", "7")

	var resp struct {
		Status string       `json:"status"`
		Data   SubmitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, SubmitResult{
		ID:       "rec-0002",
		Name:     "alice",
		Score:    7,
		Rank:     2,
		Players:  2,
		Best:     7,
		Personal: true,
	}, resp.Data)
}

func TestSubmitStoresPreparedRecord(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "submit", "--name", "Alice", "--score", `"12"`, "--prize", `{"tier":"gold"}`)
	env.mustRun(t, "submit", "--score", "abc", "--prize", "gold")

	recs, err := env.mem.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "rec-0001", recs[0].ID)
	assert.Equal(t, "Alice", *recs[0].Name)
	assert.JSONEq(t, "12", string(recs[0].Score))
	assert.JSONEq(t, `{"tier":"gold"}`, string(recs[0].Prize))
	assert.Equal(t, "1700000000000", string(recs[0].Timestamp))

	assert.Equal(t, entry.AnonymousName, *recs[1].Name)
	assert.JSONEq(t, "0", string(recs[1].Score))
	assert.JSONEq(t, `"gold"`, string(recs[1].Prize))
	assert.Equal(t, "1700000001000", string(recs[1].Timestamp))
}

func TestSubmitTieKeepsFirst(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "submit", "--name", "Alice", "--score", "10")

	out := env.mustRun(t, "submit", "--name", "ALICE", "--score", "10")
	assert.Equal(t, "Recorded 10 for ALICE (id rec-0002)\nBest stays 10. Rank 1 of 1.\n", out)
}

func TestSubmitRequiresScore(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "submit", "--name", "Alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestSubmitRunsAuthorizer(t *testing.T) {
	env := newCLIEnv(t)
	var calls atomic.Int32
	env.opts.Authorizer = gateway.AuthorizerFunc(func(context.Context) error {
		calls.Add(1)
		return errors.New("sign-in unavailable")
	})

	env.mustRun(t, "submit", "--name", "Alice", "--score", "42")
	env.mustRun(t, "submit", "--name", "Bob", "--score", "7")

	assert.Equal(t, int32(2), calls.Load())
	recs, err := env.mem.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSubmitAuthTimeoutFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "scoreboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: memory\nauth_timeout_ms: 20\n"), 0o644))

	env.opts.Authorizer = gateway.AuthorizerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	env.mustRun(t, "--config", path, "submit", "--name", "Alice", "--score", "42")
	assert.Less(t, time.Since(start), 5*time.Second)

	recs, err := env.mem.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Alice", *recs[0].Name)
}

func TestSubmitOnClosedStore(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, env.mem.Close())

	_, err := env.run(t, "submit", "--score", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to submit score")
}

func TestShowText(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "show")
	testutil.Golden(t).Assert(t, "show_text", []byte(out))
}

func TestShowJSONLimit(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "--format", "json", "show", "--limit", "2")
	testutil.Golden(t).Assert(t, "show_json", []byte(out))
}

func TestShowPlayer(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "show", "--player", "  Alice")
	assert.Equal(t,
		"RANK  PLAYER  BEST  SUBMISSIONS\n1     ALICE   60    3\n3 players, 5 submissions\n", out)

	out = env.mustRun(t, "show", "--player", "carol")
	assert.Equal(t, "No scores for carol.\n", out)
}

func TestShowEmpty(t *testing.T) {
	env := newCLIEnv(t)
	assert.Equal(t, "No scores yet.\n", env.mustRun(t, "show"))

	out := env.mustRun(t, "--format", "json", "show")
	assert.JSONEq(t, `{"status":"ok","data":{"players":0,"submissions":0,"standings":[]}}`, out)
}

func TestCompactPreview(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "compact", "--preview")
	testutil.Golden(t).Assert(t, "compact_preview", []byte(out))

	recs, err := env.mem.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 5, "preview must not touch the store")

	backups, err := compactor.Backups(context.Background(), env.blobs)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestCompactApplyBackupsRestore(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)
	before := env.mustRun(t, "show")

	out := env.mustRun(t, "compact", "--apply")
	testutil.Golden(t).Assert(t, "compact_apply", []byte(out))

	after := env.mustRun(t, "show")
	assert.Equal(t, rankingRows(before), rankingRows(after), "compaction must keep the ranking")
	assert.Contains(t, after, "3 players, 3 submissions")

	list := env.mustRun(t, "backups")
	assert.Contains(t, list, "KEY")
	assert.Contains(t, list, seededBackupKey)

	out = env.mustRun(t, "restore", seededBackupKey)
	assert.Equal(t, "Restored 5 records from "+seededBackupKey+"\n", out)
	assert.Equal(t, before, env.mustRun(t, "show"))
}

func TestCompactApplyWithoutBackup(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "--format", "json", "compact", "--apply", "--no-backup")

	var resp struct {
		Data compactor.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Applied)
	assert.Empty(t, resp.Data.BackupKey)
	assert.Equal(t, 5, resp.Data.RawCount)
	assert.Equal(t, 3, resp.Data.CompactedCount)

	assert.Equal(t, "No backups.\n", env.mustRun(t, "backups"))
}

func TestCompactFlagValidation(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "compact")
	require.Error(t, err, "one of --preview or --apply is required")

	_, err = env.run(t, "compact", "--preview", "--apply")
	require.Error(t, err, "--preview and --apply are exclusive")
}

func TestRestoreUnknownKey(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	_, err := env.run(t, "restore", "compactions/missing-raw.json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	recs, err := env.mem.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestRestoreRequiresKey(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "restore")
	require.Error(t, err)
}

func TestWatchPrintsEachChange(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "submit", "--name", "Alice", "--score", "42")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := NewRootCommandWithOptions(env.opts)
	cmd.SetArgs([]string{"watch", "--metrics-addr", ""})
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "-- update 1 --")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "1     Alice   42    1")

	_, err := env.mem.Append(context.Background(), entry.Record{
		ID:    "late",
		Name:  entry.StringPtr("Bob"),
		Score: entry.NumberScore(50),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "2 players, 2 submissions")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatchFailsWhenSubscriptionIsLost(t *testing.T) {
	env := newCLIEnv(t)

	out := &syncBuffer{}
	cmd := NewRootCommandWithOptions(env.opts)
	cmd.SetArgs([]string{"--format", "json", "watch", "--metrics-addr", ""})
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"seq":1`)
	}, 5*time.Second, 10*time.Millisecond)

	env.mem.FailSubscriptions(errors.New("connection reset"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "lost store subscription")
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after the subscription failed")
	}
}

func TestWatchVerboseReportsLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out := &syncBuffer{}
	errOut := &syncBuffer{}
	cmd := NewRootCommandWithOptions(env.opts)
	cmd.SetArgs([]string{"--verbose", "watch", "--metrics-addr", ""})
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "-- update 1 --")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, errOut.String(), "store with 1 observer(s)")

	env.mem.FailSubscriptions(errors.New("connection reset"))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after the subscription failed")
	}
	assert.Contains(t, errOut.String(), "store subscription lost after 1 update(s)")
}

func TestWatchServesMetrics(t *testing.T) {
	env := newCLIEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := NewRootCommandWithOptions(env.opts)
	cmd.SetArgs([]string{"watch", "--metrics-addr", "127.0.0.1:0"})
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "No scores yet.")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatchRejectsBadMetricsAddress(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "watch", "--metrics-addr", "256.0.0.1:bad")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to start metrics server")
}

// rankingRows keeps rank, player and best score from each table row.
// Submission counts are dropped because compaction resets them.
func rankingRows(out string) []string {
	var rows []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 4 || strings.Contains(line, ", ") {
			continue
		}
		rows = append(rows, strings.Join(fields[:3], " "))
	}
	return rows
}
