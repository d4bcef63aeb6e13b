// Package store defines the persistence contract the ranking core depends on
// and the pieces shared by every implementation.
//
// An Adapter exposes four operations:
//   - Append: persist one record, return its id (minted if absent)
//   - ReadAll: point-in-time read of every record, in append order
//   - Subscribe: push the full collection now and after every change
//   - ReplaceAll: atomically overwrite the whole collection
//
// Subscriptions deliver whole snapshots, never deltas. Snapshot callbacks for
// one subscription are serialized; onError fires at most once and ends the
// subscription. Adapters never retry on behalf of the caller.
//
// Implementations:
//   - Memory (this package): in-process, for tests and throwaway runs
//   - pebblestore: local key-value store on the device
//   - sqlitestore: SQLite file shared by several processes
//   - pgstore: shared Postgres database, LISTEN/NOTIFY push
//
// Feed is the change fan-out used by all of them: adapters call Notify after
// a committed write and the Feed re-reads and delivers a snapshot to each
// subscriber on its own goroutine.
package store
