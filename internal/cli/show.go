package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/projection"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Limit  int
	Player string
}

// RankedStanding is a standing with its 1-based position.
type RankedStanding struct {
	Rank int `json:"rank"`
	projection.Standing
}

// Board is a rendered slice of the ranking.
type Board struct {
	Players     int              `json:"players"`
	Submissions int              `json:"submissions"`
	Standings   []RankedStanding `json:"standings"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current ranking",
		Long: `Print the leaderboard once: each player's best score, best first.

Examples:
  scoreboard show
  scoreboard show --limit 10
  scoreboard show --player alice --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "show at most this many players (0 = all)")
	cmd.Flags().StringVarP(&opts.Player, "player", "p", "", "show only this player's row")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
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

	recs, err := adapter.ReadAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeStore, "failed to read scores", err)
	}
	p := projection.Build(recs)

	var board Board
	if opts.Player != "" {
		board = playerBoard(p, opts.Player)
	} else {
		board = newBoard(p, opts.Limit)
	}

	f := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return f.Render(board, func(w io.Writer) error {
		if opts.Player != "" && len(board.Standings) == 0 {
			fmt.Fprintf(w, "No scores for %s.\n", opts.Player)
			return nil
		}
		return writeBoard(w, board)
	})
}

// newBoard ranks the first limit standings of p.
func newBoard(p projection.Projection, limit int) Board {
	top := p.Top(limit)
	b := Board{
		Players:     len(p),
		Submissions: p.TotalSubmissions(),
		Standings:   make([]RankedStanding, len(top)),
	}
	for i, s := range top {
		b.Standings[i] = RankedStanding{Rank: i + 1, Standing: s}
	}
	return b
}

// playerBoard holds just name's row, if ranked.
func playerBoard(p projection.Projection, name string) Board {
	b := Board{
		Players:     len(p),
		Submissions: p.TotalSubmissions(),
		Standings:   []RankedStanding{},
	}
	if rank := p.Rank(name); rank > 0 {
		b.Standings = append(b.Standings, RankedStanding{Rank: rank, Standing: p[rank-1]})
	}
	return b
}

// writeBoard prints the board as an aligned table followed by a summary.
func writeBoard(w io.Writer, b Board) error {
	if b.Players == 0 {
		fmt.Fprintln(w, "No scores yet.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tBEST\tSUBMISSIONS")
	for _, s := range b.Standings {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", s.Rank, s.DisplayName, formatScore(s.BestScore), s.SubmissionCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s, %s\n",
		plural(b.Players, "player", "players"),
		plural(b.Submissions, "submission", "submissions"))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// displayOf is the name shown for a raw record.
func displayOf(r entry.Record) string {
	return entry.DisplayName(r.Name)
}
