// Package engine implements the scoreboard Aggregation Engine.
//
// The engine owns one store subscription, the cached Ranking Projection and
// the set of registered observers.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Store callbacks never compute anything. They enqueue an event and return.
// Engine.Run dequeues events one at a time and, for each one, rebuilds the
// projection and delivers it to every observer before looking at the next
// event. This gives:
// - One recomputation per store notification, never interleaved
// - Observers see projections in the order notifications arrived
// - No observer callback runs while an engine lock is held
//
// Lifecycle:
//
//	Detached --Subscribe--> Subscribing --snapshot--> Live
//	Live --last Unsubscribe--> Detached
//	Subscribing|Live --store error--> Errored
//	Errored --Subscribe--> Subscribing (fresh attach, not a retry)
//
// The first observer attaches to the store. Observers that join a Live or
// Errored engine get a welcome delivery of the cached projection, queued
// behind whatever is already in flight.
//
// Errored is terminal for the current subscription: the cache is replaced by
// an empty projection and observers are told so. Reconnecting is left to the
// adapter or to a later Subscribe call.
package engine
