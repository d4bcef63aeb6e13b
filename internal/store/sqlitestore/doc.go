// Package sqlitestore provides a store.Adapter over a SQLite file that
// several processes may write concurrently.
//
// The table is append-only during normal operation:
//
//	records(seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT UNIQUE, payload TEXT)
//
// payload holds the record's wire JSON verbatim, so any field subset
// round-trips. ReadAll orders by seq.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while one process writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for other writers up to 5 seconds
//
// # Change Detection
//
// Writes made through this Store notify subscribers immediately. Writes
// made by other processes are picked up by polling PRAGMA data_version on a
// dedicated connection; the value changes whenever another connection
// commits. The poller runs only while at least one subscription exists.
//
// ReplaceAll runs DELETE and the new INSERTs in one transaction.
package sqlitestore
