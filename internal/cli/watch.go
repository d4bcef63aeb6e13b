package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/scoreboard/internal/engine"
	"github.com/roach88/scoreboard/internal/metrics"
	"github.com/roach88/scoreboard/internal/projection"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Limit       int
	MetricsAddr string
}

// Update is one live ranking delivery printed by watch.
type Update struct {
	Seq int `json:"seq"`
	Board
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the ranking live",
		Long: `Subscribe to the store and print the ranking every time it changes.

Runs until interrupted. While running, engine metrics are served in the
Prometheus text format on --metrics-addr (empty disables).

Examples:
  scoreboard watch
  scoreboard watch --limit 5 --metrics-addr 127.0.0.1:9090
  scoreboard watch --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "show at most this many players (0 = all)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "metrics listen address (defaults to config)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	adapter, closeStore, err := opts.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	addr := cfg.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = opts.MetricsAddr
	}
	metricsDone, err := startMetrics(ctx, addr)
	if err != nil {
		return err
	}

	eng := engine.New(adapter, engine.WithName(string(cfg.Driver)))

	f := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	seq := 0
	lost := false

	// Observers run on the engine loop, which is this goroutine once Run
	// starts, so seq and lost need no locking.
	h, err := eng.Subscribe(engine.ObserverFunc(func(p projection.Projection) error {
		if eng.State() == engine.Errored {
			lost = true
			cancel()
			return nil
		}
		seq++
		return writeUpdate(f, Update{Seq: seq, Board: newBoard(p, opts.Limit)})
	}))
	if err != nil {
		return WrapExitError(ExitCommandError, CodeStore, "failed to subscribe", err)
	}
	slog.Info("watching scores", "driver", cfg.Driver)
	f.VerboseLog("watching %s store with %d observer(s)", cfg.Driver, eng.ObserverCount())

	err = eng.Run(ctx)
	h.Unsubscribe()
	eng.Stop()
	cancel()
	<-metricsDone

	if lost {
		f.VerboseLog("store subscription lost after %d update(s)", seq)
		return NewExitError(ExitFailure, CodeStore, "lost store subscription")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, CodeStore, "engine stopped", err)
	}
	return nil
}

// startMetrics serves engine metrics on addr until ctx ends. The returned
// channel closes once the server has shut down. An empty addr disables it.
func startMetrics(ctx context.Context, addr string) (<-chan struct{}, error) {
	done := make(chan struct{})
	if addr == "" {
		close(done)
		return done, nil
	}

	reg, err := metrics.NewRegistry()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, CodeConfig, "failed to set up metrics", err)
	}
	srv, err := metrics.Listen(addr, reg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, CodeConfig, "failed to start metrics server", err)
	}
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return done, nil
}

func writeUpdate(f *OutputFormatter, u Update) error {
	return f.Render(u, func(w io.Writer) error {
		fmt.Fprintf(w, "-- update %d --\n", u.Seq)
		return writeBoard(w, u.Board)
	})
}
