// Package gateway validates new score submissions and appends them to a
// store.
//
// Defaults are applied here, at the write boundary, so every persisted
// record has a display name, a numeric score, a timestamp and an id.
// Authorization is a precondition the gateway waits for but never enforces:
// a failed or abandoned authorization is logged and the append goes ahead.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/store"
)

// Authorizer establishes write permission before a submission.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context) error

// Authorize calls f(ctx).
func (f AuthorizerFunc) Authorize(ctx context.Context) error {
	return f(ctx)
}

// NoopAuthorizer always succeeds.
type NoopAuthorizer struct{}

// Authorize returns nil.
func (NoopAuthorizer) Authorize(context.Context) error {
	return nil
}

// Gateway appends submissions through a store.Adapter.
type Gateway struct {
	adapter     store.Adapter
	auth        Authorizer
	authTimeout time.Duration
	now         func() time.Time
	ids         store.IDGenerator
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuthorizer sets the authorization precondition.
func WithAuthorizer(a Authorizer) Option {
	return func(g *Gateway) {
		g.auth = a
	}
}

// WithAuthTimeout bounds how long Submit waits for authorization. Zero
// waits as long as the caller's context allows.
func WithAuthTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.authTimeout = d
	}
}

// WithClock overrides the clock used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithIDGenerator overrides the id generator.
func WithIDGenerator(gen store.IDGenerator) Option {
	return func(g *Gateway) {
		g.ids = gen
	}
}

// New creates a Gateway over adapter. Without WithAuthorizer no
// authorization step runs.
func New(adapter store.Adapter, opts ...Option) *Gateway {
	g := &Gateway{
		adapter: adapter,
		now:     time.Now,
		ids:     store.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit fills in defaults, waits for authorization and appends the record.
// It returns the stored id. Only a failed append or a cancelled context is
// an error.
func (g *Gateway) Submit(ctx context.Context, draft entry.Record) (string, error) {
	rec := g.Prepare(draft)

	g.authorize(ctx)
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	id, err := g.adapter.Append(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	slog.Info("entry submitted",
		"id", id,
		"identity", entry.IdentityOf(rec.Name),
		"score", string(rec.Score),
	)
	return id, nil
}

// Prepare returns draft with boundary defaults applied. The draft itself is
// not modified.
func (g *Gateway) Prepare(draft entry.Record) entry.Record {
	rec := draft.Clone()

	name := entry.DisplayName(rec.Name)
	rec.Name = &name
	rec.Score = entry.NumberScore(entry.CoerceScore(rec.Score))

	if len(rec.Timestamp) == 0 || string(rec.Timestamp) == "null" {
		rec.Timestamp = stamp(g.now())
	}
	if rec.ID == "" {
		rec.ID = g.ids.Generate()
	}
	return rec
}

// authorize runs the authorizer and reports problems without failing.
func (g *Gateway) authorize(ctx context.Context) {
	if g.auth == nil {
		return
	}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if g.authTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, g.authTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("authorizer panicked: %v", r)
			}
		}()
		done <- g.auth.Authorize(actx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("authorization failed, submitting anyway", "error", err)
		}
	case <-actx.Done():
		slog.Warn("authorization abandoned, submitting anyway",
			"timeout", g.authTimeout,
			"error", actx.Err(),
		)
	}
}

// stamp encodes t as epoch milliseconds.
func stamp(t time.Time) []byte {
	return []byte(strconv.FormatInt(t.UnixMilli(), 10))
}
