package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/scoreboard/internal/entry"
)

var (
	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("store: closed")

	// ErrDuplicateID is returned when a record id is already present.
	ErrDuplicateID = errors.New("store: duplicate record id")

	// ErrSubscriptionClosed is delivered to onError when the adapter shuts
	// down underneath a live subscription.
	ErrSubscriptionClosed = errors.New("store: subscription closed")
)

// SnapshotFunc receives the full current collection.
type SnapshotFunc func([]entry.Record)

// ErrorFunc receives the error that ended a subscription.
type ErrorFunc func(error)

// Adapter is the persistence contract shared by local and remote stores.
type Adapter interface {
	// Append persists rec and returns its id. A record without an id gets
	// one minted by the adapter.
	Append(ctx context.Context, rec entry.Record) (string, error)

	// ReadAll returns every persisted record in append order.
	ReadAll(ctx context.Context) ([]entry.Record, error)

	// Subscribe delivers the full collection promptly, then again after
	// every change, until the subscription is closed or fails.
	Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)

	// ReplaceAll atomically overwrites the collection with recs.
	ReplaceAll(ctx context.Context, recs []entry.Record) error

	// Close releases the adapter. Live subscriptions receive
	// ErrSubscriptionClosed.
	Close() error
}

// Subscription is a live change feed registration.
type Subscription interface {
	Close() error
}

// CheckUniqueIDs returns ErrDuplicateID if two records share an id.
// Records without an id are ignored.
func CheckUniqueIDs(recs []entry.Record) error {
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		if r.ID == "" {
			continue
		}
		if _, ok := seen[r.ID]; ok {
			return &DuplicateIDError{ID: r.ID}
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// DuplicateIDError names the offending id. It matches ErrDuplicateID.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("store: duplicate record id %q", e.ID)
}

// Is reports whether target is ErrDuplicateID.
func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}
