package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/scoreboard/internal/blob/core"
	"github.com/roach88/scoreboard/internal/compactor"
	"github.com/roach88/scoreboard/internal/entry"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	Preview  bool
	Apply    bool
	NoBackup bool
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Reduce the store to one record per player",
		Long: `Rewrite the store so each player keeps only their best submission.

--preview reports what would be kept and changes nothing. --apply
archives the raw collection to the backup store, then replaces it with
the compacted records. The ranking is the same before and after;
submission counts reset to 1.

Examples:
  scoreboard compact --preview
  scoreboard compact --apply
  scoreboard compact --apply --no-backup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "report without changing anything")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "replace the stored records")
	cmd.Flags().BoolVar(&opts.NoBackup, "no-backup", false, "skip the raw archive on --apply")
	cmd.MarkFlagsMutuallyExclusive("preview", "apply")
	cmd.MarkFlagsOneRequired("preview", "apply")

	return cmd
}

func runCompact(opts *CompactOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	adapter, closeStore, err := opts.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	copts := compactor.Options{
		Apply: opts.Apply,
		NewID: opts.ids().Generate,
		Now:   opts.now,
	}
	if opts.Apply && !opts.NoBackup {
		copts.Backup, err = opts.openBackups(ctx, cfg)
		if err != nil {
			return err
		}
	}

	res, err := compactor.Compact(ctx, adapter, copts)
	if err != nil {
		return WrapExitError(ExitFailure, CodeCompact, "compaction failed", err)
	}

	f := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return f.Render(res, func(w io.Writer) error {
		verb := "would keep"
		if res.Applied {
			verb = "kept"
		}
		fmt.Fprintf(w, "%s, %s %d, %d removed\n",
			plural(res.RawCount, "raw record", "raw records"), verb, res.CompactedCount, res.Removed())

		if len(res.Records) > 0 {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PLAYER\tSCORE\tID")
			for _, r := range res.Records {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", displayOf(r), formatScore(entry.CoerceScore(r.Score)), r.ID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}

		if res.BackupKey != "" {
			fmt.Fprintf(w, "Raw records archived to %s\n", res.BackupKey)
		}
		return nil
	})
}

// NewBackupsCommand creates the backups command.
func NewBackupsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List raw archives written by compact --apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackups(rootOpts, cmd)
		},
	}
	return cmd
}

func runBackups(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	src, err := opts.openBackups(ctx, cfg)
	if err != nil {
		return err
	}

	infos, err := compactor.Backups(ctx, src)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeBackup, "failed to list backups", err)
	}
	if infos == nil {
		infos = []core.Info{}
	}

	f := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return f.Render(infos, func(w io.Writer) error {
		if len(infos) == 0 {
			fmt.Fprintln(w, "No backups.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tRECORDS\tBYTES")
		for _, info := range infos {
			records := info.Metadata["records"]
			if records == "" {
				records = "?"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", info.Key, records, info.Size)
		}
		return tw.Flush()
	})
}

// RestoreResult is the restore command's output.
type RestoreResult struct {
	Key      string `json:"key"`
	Restored int    `json:"restored"`
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <key>",
		Short: "Replace the store with a raw archive",
		Long: `Replace every stored record with the contents of a raw archive.

Keys are listed by the backups command. The current records are
discarded; run compact --apply first to keep an archive of them.

Example:
  scoreboard restore compactions/20231114T221320.000Z-raw.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRestore(opts *RootOptions, key string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	src, err := opts.openBackups(ctx, cfg)
	if err != nil {
		return err
	}
	adapter, closeStore, err := opts.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := compactor.Restore(ctx, adapter, src, key)
	if err != nil {
		return WrapExitError(ExitFailure, CodeBackup, "restore failed", err)
	}

	res := RestoreResult{Key: key, Restored: n}
	f := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return f.Render(res, func(w io.Writer) error {
		fmt.Fprintf(w, "Restored %s from %s\n", plural(n, "record", "records"), key)
		return nil
	})
}
