package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/scoreboard/internal/entry"
)

// LoadFunc reads the full current collection for a snapshot delivery.
type LoadFunc func(ctx context.Context) ([]entry.Record, error)

// Feed fans change notifications out to subscribers.
//
// Each subscriber owns a goroutine and a coalescing signal channel (buffer
// of one). Notify only sets the signal; the subscriber goroutine re-reads
// the collection and invokes its callback. Several Notify calls that land
// while a delivery is running collapse into one further delivery, which is
// safe because every delivery is a full snapshot.
//
// Thread-safety: all methods are safe for concurrent use.
type Feed struct {
	load LoadFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[int]*feedSub
	nextID int
	closed bool
}

// NewFeed creates a feed that reads snapshots with load.
func NewFeed(load LoadFunc) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		load:   load,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]*feedSub),
	}
}

// Subscribe registers callbacks and schedules the initial snapshot.
func (f *Feed) Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	s := &feedSub{
		feed:       f,
		id:         f.nextID,
		onSnapshot: onSnapshot,
		onError:    onError,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	f.nextID++
	f.subs[s.id] = s

	s.signal <- struct{}{}
	go s.loop()

	return s, nil
}

// Notify schedules a fresh snapshot for every subscriber.
func (f *Feed) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Fail ends every live subscription with err. The feed stays usable for
// new subscriptions.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[int]*feedSub)
	f.mu.Unlock()

	for _, s := range subs {
		s.stop(err)
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription with ErrSubscriptionClosed and rejects new
// ones. Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.Fail(ErrSubscriptionClosed)
	f.cancel()
}

func (f *Feed) remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

type feedSub struct {
	feed       *Feed
	id         int
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	signal chan struct{}
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Close stops future deliveries. A delivery already running completes.
func (s *feedSub) Close() error {
	s.feed.remove(s.id)
	s.stop(nil)
	return nil
}

func (s *feedSub) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *feedSub) loop() {
	for {
		select {
		case <-s.done:
			s.finish()
			return
		case <-s.signal:
		}

		// A stop that raced with the signal wins.
		select {
		case <-s.done:
			s.finish()
			return
		default:
		}

		recs, err := s.feed.load(s.feed.ctx)
		if err != nil {
			slog.Error("snapshot load failed", "error", err)
			s.feed.remove(s.id)
			s.stop(err)
			s.finish()
			return
		}
		if s.onSnapshot != nil {
			s.onSnapshot(recs)
		}
	}
}

func (s *feedSub) finish() {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()

	if err != nil && s.onError != nil {
		s.onError(err)
	}
}
