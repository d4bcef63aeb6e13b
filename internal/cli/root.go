// Package cli implements the scoreboard command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scoreboard/internal/blob"
	"github.com/roach88/scoreboard/internal/blob/core"
	"github.com/roach88/scoreboard/internal/config"
	"github.com/roach88/scoreboard/internal/gateway"
	"github.com/roach88/scoreboard/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Driver     string // overrides the configured store driver

	// Adapter replaces the configured store. Commands never close it.
	Adapter store.Adapter
	// Backups replaces the configured blob store.
	Backups core.Store
	// Now overrides the wall clock (for testing).
	Now func() time.Time
	// IDs overrides the record id generator (for testing).
	IDs store.IDGenerator
	// Authorizer runs before each submission. When nil, a store that
	// implements gateway.Authorizer authorizes its own writes.
	Authorizer gateway.Authorizer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the scoreboard CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions builds the command tree around opts. Tests use
// it to inject stores, clocks and id generators.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scoreboard",
		Short: "Best-score-per-player leaderboard",
		Long: `Keep a leaderboard of score submissions, one row per player.

Every submission is stored as-is. The ranking keeps each player's best
score, matching players by name regardless of case or surrounding
whitespace.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, CodeConfig,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Driver != "" && !slices.Contains(config.Drivers, config.Driver(opts.Driver)) {
				return NewExitError(ExitCommandError, CodeConfig,
					fmt.Sprintf("invalid driver %q: must be one of %v", opts.Driver, config.Drivers))
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.yaml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (memory|pebble|sqlite|postgres)")

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewBackupsCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stderr, or as a JSON error response on stdout
// when --format json is in effect.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := NewRootCommandWithOptions(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Kind != "" {
		opts.formatter(stdout, stderr).ReportError(err)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

func setupLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves the configuration and applies the --driver override.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	if o.Driver != "" {
		cfg.Driver = config.Driver(o.Driver)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, CodeConfig, "invalid config", err)
		}
	}
	return cfg, nil
}

// openStore returns the adapter for cfg and a func that releases it.
func (o *RootOptions) openStore(ctx context.Context, cfg config.Config) (store.Adapter, func(), error) {
	if o.Adapter != nil {
		return o.Adapter, func() {}, nil
	}

	slog.Debug("opening store", "driver", cfg.Driver)
	adapter, err := OpenAdapter(ctx, cfg, o.ids())
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, CodeStore, "failed to open store", err)
	}
	return adapter, func() {
		if closeErr := adapter.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}, nil
}

// openBackups returns the blob store archives are written to.
func (o *RootOptions) openBackups(ctx context.Context, cfg config.Config) (core.Store, error) {
	if o.Backups != nil {
		return o.Backups, nil
	}
	b, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, CodeBackup, "failed to open backup store", err)
	}
	return b, nil
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *RootOptions) ids() store.IDGenerator {
	if o.IDs != nil {
		return o.IDs
	}
	return store.UUIDv7Generator{}
}

func (o *RootOptions) authorizer(adapter store.Adapter) gateway.Authorizer {
	if o.Authorizer != nil {
		return o.Authorizer
	}
	if auth, ok := adapter.(gateway.Authorizer); ok {
		return auth
	}
	return nil
}
