package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/projection"
	"github.com/roach88/scoreboard/internal/store"
)

// State is the engine's subscription lifecycle state.
type State int

const (
	// Detached has no store subscription.
	Detached State = iota
	// Subscribing has asked the store for a subscription and awaits the
	// first snapshot.
	Subscribing
	// Live has a subscription and a valid cached projection.
	Live
	// Errored lost its subscription. The cache is empty.
	Errored
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer receives every projection the engine computes. Each delivery is
// a private copy. A returned error is logged and counted, nothing more.
type Observer interface {
	Observe(p projection.Projection) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p projection.Projection) error

// Observe calls f(p).
func (f ObserverFunc) Observe(p projection.Projection) error {
	return f(p)
}

// Handle is returned by Subscribe and removes the observer again.
type Handle struct {
	id     uint64
	engine *Engine
	once   sync.Once
}

// ID returns the observer id used in logs.
func (h *Handle) ID() uint64 {
	return h.id
}

// Unsubscribe stops future deliveries. A delivery already running completes.
// Safe to call more than once.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.engine.remove(h.id)
	})
}

type registration struct {
	id  uint64
	obs Observer

	// delivered is only touched by the Run goroutine.
	delivered bool
}

// DefaultName labels metrics and logs when WithName is not given.
const DefaultName = "default"

// Option configures an Engine.
type Option func(*Engine)

// WithName sets the name used for metric labels and log attributes.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// Engine is the single-writer aggregation loop.
//
// Thread-safety model:
//   - Subscribe, Unsubscribe, Current, State, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Observers are invoked only from the Run goroutine, never under a lock
type Engine struct {
	adapter store.Adapter
	name    string
	queue   *eventQueue

	mu         sync.RWMutex
	state      State
	current    projection.Projection
	observers  []*registration // registration order
	nextID     uint64
	sub        store.Subscription
	generation uint64
	stopped    bool
}

// New creates a Detached engine over adapter. Nothing happens until the
// first Subscribe and a running Run loop.
func New(adapter store.Adapter, opts ...Option) *Engine {
	e := &Engine{
		adapter: adapter,
		name:    DefaultName,
		queue:   newEventQueue(),
		current: projection.Projection{},
	}
	for _, opt := range opts {
		opt(e)
	}
	EngineState.WithLabelValues(e.name).Set(float64(Detached))
	return e
}

// Subscribe registers obs. The first observer attaches the engine to the
// store. Observers joining a Live or Errored engine are sent the cached
// projection without waiting for the next write.
//
// The store subscription is opened without holding the engine lock, so a
// slow store never blocks State, Current or Unsubscribe.
func (e *Engine) Subscribe(obs Observer) (*Handle, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrStopped
	}

	e.nextID++
	reg := &registration{id: e.nextID, obs: obs}
	e.observers = append(e.observers, reg)

	prev := e.state
	var gen uint64
	switch prev {
	case Detached, Errored:
		e.generation++
		gen = e.generation
		e.setStateLocked(Subscribing)
		if prev == Errored {
			// Hand over the empty projection while the fresh attach is
			// pending.
			e.queue.Enqueue(Event{Type: EventTypeWelcome, Observer: reg.id})
		}
	case Live:
		e.queue.Enqueue(Event{Type: EventTypeWelcome, Observer: reg.id})
	case Subscribing:
		// The pending initial snapshot covers this observer.
	}
	count := len(e.observers)
	e.mu.Unlock()

	Observers.WithLabelValues(e.name).Set(float64(count))
	slog.Debug("observer registered",
		"engine", e.name,
		"observer", reg.id,
		"observers", count,
		"state", prev,
	)

	h := &Handle{id: reg.id, engine: e}
	if gen == 0 {
		return h, nil
	}
	if err := e.attach(gen, prev, reg.id); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return h, nil
}

// Unsubscribe is equivalent to h.Unsubscribe().
func (e *Engine) Unsubscribe(h *Handle) {
	if h == nil || h.engine != e {
		return
	}
	h.Unsubscribe()
}

// Current returns a copy of the cached projection. Before the first snapshot
// and after a store error it is empty.
func (e *Engine) Current() projection.Projection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current.Clone()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ObserverCount returns the number of registered observers.
func (e *Engine) ObserverCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.observers)
}

// Run starts the single-writer event loop.
// Blocks until the context is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
// Every recompute and every observer call happens here.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "engine", e.name)
	defer e.shutdown()

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.processEvent(event)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled", "engine", e.name)
			return ctx.Err()

		case <-e.queue.Wait():
			// Closed signal fires repeatedly; only stop once drained.
			if e.queue.Drained() {
				slog.Info("engine stopping: queue closed", "engine", e.name)
				return nil
			}
		}
	}
}

// Stop detaches from the store and makes Run return once queued events are
// handled. Later Subscribe calls fail with ErrStopped.
func (e *Engine) Stop() {
	e.shutdown()
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	sub := e.detachLocked()
	e.mu.Unlock()

	e.queue.Close()
	closeSubscription(e.name, sub)
}

// attach opens a store subscription for generation gen. If the engine moved
// on while the store was busy, the new subscription is closed again. On
// failure the observer that triggered the attach is dropped.
func (e *Engine) attach(gen uint64, prev State, observer uint64) error {
	sub, err := e.adapter.Subscribe(
		func(recs []entry.Record) {
			e.queue.Enqueue(Event{Type: EventTypeSnapshot, Generation: gen, Records: recs})
		},
		func(err error) {
			e.queue.Enqueue(Event{Type: EventTypeError, Generation: gen, Err: err})
		},
	)

	e.mu.Lock()
	if err != nil {
		slog.Error("store subscribe failed", "engine", e.name, "error", err)
		e.dropFailedAttachLocked(gen, prev, observer)
		count := len(e.observers)
		e.mu.Unlock()
		Observers.WithLabelValues(e.name).Set(float64(count))
		return err
	}

	if e.stopped {
		e.mu.Unlock()
		closeSubscription(e.name, sub)
		return ErrStopped
	}
	if e.generation != gen {
		e.mu.Unlock()
		slog.Debug("closing superseded store subscription", "engine", e.name, "generation", gen)
		closeSubscription(e.name, sub)
		return nil
	}
	e.sub = sub
	e.mu.Unlock()
	return nil
}

// dropFailedAttachLocked unregisters observer after its attach failed.
// Observers that joined while the attach was pending see the engine as
// Errored. Caller holds e.mu.
func (e *Engine) dropFailedAttachLocked(gen uint64, prev State, observer uint64) {
	if idx := slices.IndexFunc(e.observers, func(r *registration) bool { return r.id == observer }); idx >= 0 {
		e.observers = slices.Delete(e.observers, idx, idx+1)
	}
	if e.generation != gen {
		return
	}
	e.generation++
	if len(e.observers) == 0 {
		e.setStateLocked(prev)
		return
	}
	e.current = projection.Projection{}
	e.setStateLocked(Errored)
	for _, reg := range e.observers {
		e.queue.Enqueue(Event{Type: EventTypeWelcome, Observer: reg.id})
	}
}

// detachLocked forgets the store subscription and returns it for closing
// outside the lock. Caller holds e.mu.
func (e *Engine) detachLocked() store.Subscription {
	sub := e.sub
	e.sub = nil
	e.generation++
	e.setStateLocked(Detached)
	return sub
}

func (e *Engine) remove(id uint64) {
	e.mu.Lock()
	idx := slices.IndexFunc(e.observers, func(r *registration) bool { return r.id == id })
	if idx < 0 {
		e.mu.Unlock()
		return
	}
	e.observers = slices.Delete(e.observers, idx, idx+1)
	remaining := len(e.observers)

	var sub store.Subscription
	if remaining == 0 && e.state != Detached {
		sub = e.detachLocked()
	}
	e.mu.Unlock()

	Observers.WithLabelValues(e.name).Set(float64(remaining))
	slog.Debug("observer removed", "engine", e.name, "observer", id, "observers", remaining)
	closeSubscription(e.name, sub)
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	slog.Debug("engine state", "engine", e.name, "from", e.state, "to", s)
	e.state = s
	EngineState.WithLabelValues(e.name).Set(float64(s))
}

// processEvent routes an event to its handler.
// CRITICAL: Called only from the Run goroutine.
func (e *Engine) processEvent(event Event) {
	switch event.Type {
	case EventTypeSnapshot:
		e.processSnapshot(event)
	case EventTypeError:
		e.processError(event)
	case EventTypeWelcome:
		e.processWelcome(event)
	default:
		slog.Error("unknown event type", "engine", e.name, "type", int(event.Type))
	}
}

func (e *Engine) processSnapshot(event Event) {
	start := time.Now()
	p := projection.Build(event.Records)
	RecomputeDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())

	e.mu.Lock()
	if event.Generation != e.generation {
		e.mu.Unlock()
		slog.Debug("dropping stale snapshot", "engine", e.name, "generation", event.Generation)
		return
	}
	e.current = p
	e.setStateLocked(Live)
	targets := slices.Clone(e.observers)
	e.mu.Unlock()

	RecomputeCount.WithLabelValues(e.name).Inc()
	ProjectionSize.WithLabelValues(e.name).Set(float64(len(p)))
	slog.Debug("projection recomputed",
		"engine", e.name,
		"records", len(event.Records),
		"players", len(p),
		"observers", len(targets),
	)

	e.fanOut(targets, p)
}

func (e *Engine) processError(event Event) {
	e.mu.Lock()
	if event.Generation != e.generation {
		e.mu.Unlock()
		return
	}
	sub := e.sub
	e.sub = nil
	e.generation++
	e.current = projection.Projection{}
	e.setStateLocked(Errored)
	targets := slices.Clone(e.observers)
	e.mu.Unlock()

	SubscriptionErrors.WithLabelValues(e.name).Inc()
	ProjectionSize.WithLabelValues(e.name).Set(0)
	slog.Error("store subscription failed",
		"engine", e.name,
		"error", event.Err,
		"observers", len(targets),
	)

	closeSubscription(e.name, sub)
	e.fanOut(targets, projection.Projection{})
}

func (e *Engine) processWelcome(event Event) {
	e.mu.RLock()
	idx := slices.IndexFunc(e.observers, func(r *registration) bool { return r.id == event.Observer })
	var reg *registration
	if idx >= 0 {
		reg = e.observers[idx]
	}
	p := e.current
	e.mu.RUnlock()

	// Gone, or already served by a newer snapshot.
	if reg == nil || reg.delivered {
		return
	}
	e.deliver(reg, p)
}

func (e *Engine) fanOut(targets []*registration, p projection.Projection) {
	for _, reg := range targets {
		e.deliver(reg, p)
	}
}

func (e *Engine) deliver(reg *registration, p projection.Projection) {
	reg.delivered = true

	err := observe(reg, p.Clone())
	if err == nil {
		return
	}

	kind := "error"
	if IsObserverPanic(err) {
		kind = "panic"
	}
	DeliveryFailures.WithLabelValues(e.name, kind).Inc()
	slog.Error("observer delivery failed", "engine", e.name, "observer", reg.id, "error", err)
}

func observe(reg *registration, p projection.Projection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ObserverError{Observer: reg.id, Panic: r}
		}
	}()

	if obsErr := reg.obs.Observe(p); obsErr != nil {
		return &ObserverError{Observer: reg.id, Err: obsErr}
	}
	return nil
}

func closeSubscription(name string, sub store.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		slog.Warn("closing store subscription", "engine", name, "error", err)
	}
}
