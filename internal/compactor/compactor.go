// Package compactor rewrites the raw record collection to its canonical
// best-per-player form.
//
// Compaction is destructive and explicit. A preview computes the result
// without touching the store. An apply optionally archives the raw
// collection to a blob store first, then swaps the collection in a single
// ReplaceAll. The archive is written to a fresh key before the live data
// is touched; if it cannot be written, nothing is replaced.
package compactor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/scoreboard/internal/blob/core"
	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/projection"
	"github.com/roach88/scoreboard/internal/store"
)

const (
	// BackupPrefix is the key prefix for raw-collection archives.
	BackupPrefix = "compactions/"

	backupSuffix     = "-raw.json"
	backupTimeFormat = "20060102T150405.000Z"
)

// Options controls a compaction.
type Options struct {
	// Apply performs the replace. Without it Compact only previews.
	Apply bool

	// Backup receives the raw collection before an apply. Nil skips it.
	Backup core.Store

	// NewID mints ids for winners stored without one. Defaults to UUIDv7.
	NewID func() string

	// Now stamps the backup key. Defaults to time.Now.
	Now func() time.Time
}

// Result describes a compaction, previewed or applied.
type Result struct {
	RawCount       int            `json:"raw_count"`
	CompactedCount int            `json:"compacted_count"`
	Records        []entry.Record `json:"records"`
	BackupKey      string         `json:"backup_key,omitempty"`
	Applied        bool           `json:"applied"`
}

// Removed returns how many raw records the compaction discards.
func (r Result) Removed() int {
	return r.RawCount - r.CompactedCount
}

// Compact reads the whole collection once, builds the projection and turns
// it back into one record per player. See Options for apply semantics.
func Compact(ctx context.Context, adapter store.Adapter, opts Options) (Result, error) {
	if opts.NewID == nil {
		opts.NewID = store.NewID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	raw, err := adapter.ReadAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("compact: read: %w", err)
	}

	canonical := projection.ToRecords(projection.Build(raw), opts.NewID)
	res := Result{
		RawCount:       len(raw),
		CompactedCount: len(canonical),
		Records:        canonical,
	}
	slog.Info("compaction planned",
		"raw", res.RawCount,
		"compacted", res.CompactedCount,
		"apply", opts.Apply,
	)

	if !opts.Apply {
		return res, nil
	}

	if opts.Backup != nil {
		key, err := Archive(ctx, opts.Backup, raw, opts.Now())
		if err != nil {
			return res, fmt.Errorf("compact: backup: %w", err)
		}
		res.BackupKey = key
	}

	if err := adapter.ReplaceAll(ctx, canonical); err != nil {
		return res, fmt.Errorf("compact: replace: %w", err)
	}
	res.Applied = true

	slog.Info("compaction applied",
		"raw", res.RawCount,
		"compacted", res.CompactedCount,
		"backup", res.BackupKey,
	)
	return res, nil
}

// BackupKey returns the archive key for a compaction at t.
func BackupKey(t time.Time) string {
	return BackupPrefix + t.UTC().Format(backupTimeFormat) + backupSuffix
}

// Archive writes recs as a JSON array under BackupKey(at) and returns the
// key. The blob store's create-only Put keeps an existing archive intact.
func Archive(ctx context.Context, dst core.Store, recs []entry.Record, at time.Time) (string, error) {
	if recs == nil {
		recs = []entry.Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}

	key := BackupKey(at)
	_, err = dst.Put(ctx, key, bytes.NewReader(data), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"records": strconv.Itoa(len(recs))},
	})
	if err != nil {
		return "", err
	}
	slog.Info("raw collection archived", "key", key, "driver", dst.Driver(), "records", len(recs))
	return key, nil
}

// Backups lists archives written by Archive, oldest first.
func Backups(ctx context.Context, src core.Store) ([]core.Info, error) {
	all, err := src.List(ctx, BackupPrefix)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	out := all[:0]
	for _, info := range all {
		if strings.HasSuffix(info.Key, backupSuffix) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Restore replaces the live collection with the archive at key. It returns
// the number of records restored.
func Restore(ctx context.Context, adapter store.Adapter, src core.Store, key string) (int, error) {
	_, rc, err := src.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	defer rc.Close()

	var recs []entry.Record
	if err := json.NewDecoder(rc).Decode(&recs); err != nil {
		return 0, fmt.Errorf("restore: decode %s: %w", key, err)
	}
	if err := adapter.ReplaceAll(ctx, recs); err != nil {
		return 0, fmt.Errorf("restore: replace: %w", err)
	}

	slog.Info("raw collection restored", "key", key, "records", len(recs))
	return len(recs), nil
}
