package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/scoreboard/internal/compactor"
	"github.com/roach88/scoreboard/internal/engine"
	"github.com/roach88/scoreboard/internal/gateway"
	"github.com/roach88/scoreboard/internal/projection"
	"github.com/roach88/scoreboard/internal/store"
	"github.com/roach88/scoreboard/internal/testutil"
)

// DefaultConvergeTimeout bounds the wait after each step.
const DefaultConvergeTimeout = 5 * time.Second

const pollInterval = 2 * time.Millisecond

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Errors lists failed expectations. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the engine state after the last step.
	State string `json:"state"`

	// Standings is the last ranking the engine delivered.
	Standings projection.Projection `json:"standings"`

	// Deliveries counts observer calls. Coalescing makes it vary between
	// runs, so it is informational only.
	Deliveries int `json:"-"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// recorder keeps the latest delivery.
type recorder struct {
	mu     sync.Mutex
	latest projection.Projection
	count  int
}

func (r *recorder) Observe(p projection.Projection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = p
	r.count++
	return nil
}

func (r *recorder) snapshot() (projection.Projection, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.count
}

// Harness executes scenarios against a fresh in-memory store.
type Harness struct {
	mem     *store.Memory
	gateway *gateway.Gateway
	engine  *engine.Engine
	ids     *testutil.SequentialIDs
	rec     *recorder
	handles []*engine.Handle
	timeout time.Duration
	failed  bool
}

// Option configures a run.
type Option func(*Harness)

// WithConvergeTimeout overrides DefaultConvergeTimeout.
func WithConvergeTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.timeout = d
	}
}

// Run executes scenario and evaluates its expectations. The returned error
// covers harness problems (a step that could not run, an engine that never
// converged); unmet expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := testutil.NewSequentialIDs("rec")
	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	mem := store.NewMemory(store.WithIDGenerator(ids))
	defer mem.Close()

	h := &Harness{
		mem:     mem,
		gateway: gateway.New(mem, gateway.WithClock(clock.Now), gateway.WithIDGenerator(ids)),
		engine:  engine.New(mem, engine.WithName("harness")),
		ids:     ids,
		rec:     &recorder{},
		timeout: DefaultConvergeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- h.engine.Run(runCtx) }()
	defer func() {
		h.engine.Stop()
		cancel()
		<-runDone
	}()

	if err := h.subscribe(); err != nil {
		return nil, err
	}
	if err := h.converge(ctx); err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := h.converge(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	latest, count := h.rec.snapshot()
	result := &Result{
		Pass:       true,
		Errors:     []string{},
		State:      h.engine.State().String(),
		Standings:  latest,
		Deliveries: count,
	}
	evaluate(result, scenario.Expect)
	return result, nil
}

func (h *Harness) subscribe() error {
	handle, err := h.engine.Subscribe(h.rec)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	h.handles = append(h.handles, handle)
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Submit != nil:
		draft, err := step.Submit.Record()
		if err != nil {
			return err
		}
		if _, err := h.gateway.Submit(ctx, draft); err != nil {
			return err
		}

	case step.Compact:
		if _, err := compactor.Compact(ctx, h.mem, compactor.Options{
			Apply: true,
			NewID: h.ids.Generate,
		}); err != nil {
			return err
		}

	case step.Fail != "":
		h.failed = true
		h.mem.FailSubscriptions(errors.New(step.Fail))

	case step.Resubscribe:
		h.failed = false
		return h.subscribe()
	}
	return nil
}

// converge waits until the last delivery reflects the store.
func (h *Harness) converge(ctx context.Context) error {
	deadline := time.Now().Add(h.timeout)
	for {
		ok, err := h.converged(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			latest, _ := h.rec.snapshot()
			return fmt.Errorf("engine did not converge within %s (state %s, %d players delivered)",
				h.timeout, h.engine.State(), len(latest))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (h *Harness) converged(ctx context.Context) (bool, error) {
	latest, count := h.rec.snapshot()
	if count == 0 {
		return false, nil
	}

	if h.failed {
		return h.engine.State() == engine.Errored && len(latest) == 0, nil
	}
	if h.engine.State() != engine.Live {
		return false, nil
	}

	recs, err := h.mem.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(latest, projection.Build(recs)), nil
}

func evaluate(r *Result, want Expectation) {
	wantState := want.State
	if wantState == "" {
		wantState = engine.Live.String()
	}
	if r.State != wantState {
		r.addError("state: expected %s, got %s", wantState, r.State)
	}

	if len(r.Standings) != len(want.Standings) {
		r.addError("standings: expected %d players, got %d", len(want.Standings), len(r.Standings))
	}
	for i, w := range want.Standings {
		if i >= len(r.Standings) {
			break
		}
		got := r.Standings[i]
		if got.DisplayName != w.Name {
			r.addError("rank %d: expected name %q, got %q", w.Rank, w.Name, got.DisplayName)
		}
		if got.BestScore != w.Best {
			r.addError("rank %d: expected best %v, got %v", w.Rank, w.Best, got.BestScore)
		}
		if got.SubmissionCount != w.Submissions {
			r.addError("rank %d: expected %d submissions, got %d", w.Rank, w.Submissions, got.SubmissionCount)
		}
		if w.RecordID != "" && got.BestRecordID != w.RecordID {
			r.addError("rank %d: expected record %q, got %q", w.Rank, w.RecordID, got.BestRecordID)
		}
	}

	for name, rank := range want.Ranks {
		if got := r.Standings.Rank(name); got != rank {
			r.addError("rank of %q: expected %d, got %d", name, rank, got)
		}
	}
}
