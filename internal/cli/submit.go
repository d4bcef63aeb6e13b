package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/scoreboard/internal/entry"
	"github.com/roach88/scoreboard/internal/gateway"
	"github.com/roach88/scoreboard/internal/projection"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Name  string
	Score string
	Prize string
}

// SubmitResult is the submit command's output.
type SubmitResult struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
	Players  int     `json:"players"`
	Best     float64 `json:"best"`
	Personal bool    `json:"personal_best"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a score",
		Long: `Record one score submission.

The score may be a number or a numeric string; anything else counts as 0.
A missing or blank name is recorded as Anonymous. The prize is stored
verbatim and may be any JSON value.

Examples:
  scoreboard submit --name Alice --score 42
  scoreboard submit --name "  alice " --score "17.5" --prize '{"tier":"gold"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "player name")
	cmd.Flags().StringVarP(&opts.Score, "score", "s", "", "score (required)")
	_ = cmd.MarkFlagRequired("score")
	cmd.Flags().StringVar(&opts.Prize, "prize", "", "prize, as JSON or plain text")

	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
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

	draft := entry.Record{
		Score: rawValue(opts.Score),
		Prize: rawValue(opts.Prize),
	}
	if cmd.Flags().Changed("name") {
		draft.Name = entry.StringPtr(opts.Name)
	}

	gwOpts := []gateway.Option{
		gateway.WithAuthTimeout(cfg.AuthTimeout()),
		gateway.WithClock(opts.now),
		gateway.WithIDGenerator(opts.ids()),
	}
	if auth := opts.authorizer(adapter); auth != nil {
		gwOpts = append(gwOpts, gateway.WithAuthorizer(auth))
	}
	gw := gateway.New(adapter, gwOpts...)
	id, err := gw.Submit(ctx, draft)
	if err != nil {
		return WrapExitError(ExitFailure, CodeSubmit, "failed to submit score", err)
	}

	recs, err := adapter.ReadAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeStore, "failed to read scores", err)
	}
	p := projection.Build(recs)

	res := SubmitResult{
		ID:      id,
		Name:    entry.DisplayName(draft.Name),
		Score:   entry.CoerceScore(draft.Score),
		Rank:    p.Rank(entry.DisplayName(draft.Name)),
		Players: len(p),
	}
	if res.Rank > 0 {
		s := p[res.Rank-1]
		res.Best = s.BestScore
		res.Personal = s.BestRecordID == id
	}

	f := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return f.Render(res, func(w io.Writer) error {
		fmt.Fprintf(w, "Recorded %s for %s (id %s)\n", formatScore(res.Score), res.Name, res.ID)
		if res.Personal {
			fmt.Fprintf(w, "New personal best. Rank %d of %d.\n", res.Rank, res.Players)
		} else {
			fmt.Fprintf(w, "Best stays %s. Rank %d of %d.\n", formatScore(res.Best), res.Rank, res.Players)
		}
		return nil
	})
}

// rawValue keeps valid JSON as-is and encodes anything else as a string.
// An empty flag means absent.
func rawValue(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
