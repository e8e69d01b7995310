package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Flowsheet string
	State     string
}

// ReplayRunResult is the replay outcome of one stored run.
type ReplayRunResult struct {
	RunID       string         `json:"run_id"`
	State       pipeline.State `json:"state,omitempty"`
	Transitions int            `json:"transitions"`
	Digest      string         `json:"digest,omitempty"`
	Verified    bool           `json:"verified"`
	Error       string         `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs        []ReplayRunResult `json:"runs"`
	TotalRuns   int               `json:"total_runs"`
	AllVerified bool              `json:"all_verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [run-id]",
		Short: "Replay recorded runs and verify their histories",
		Long: `Rebuild the final state of recorded runs from their transition history
alone and check it against the stored state and history digest. With no
run id every recorded run matching --flowsheet and --state is replayed.

Replay never touches an equation system, so it is deterministic.

Exit codes:
  0 - Every replayed run matches its record
  1 - A history does not reproduce its recorded state or digest
  2 - Command error (database not found, unknown run, etc.)

Examples:
  hygiene replay --db ./runs.db
  hygiene replay --db ./runs.db --flowsheet ro-train --state FAILED
  hygiene replay --db ./runs.db test-run-0001 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Flowsheet, "flowsheet", "", "replay only runs of this flowsheet")
	cmd.Flags().StringVar(&opts.State, "state", "", "replay only runs that ended in this state")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.State != "" && !pipeline.State(opts.State).Terminal() {
		return NewExitError(ExitCommandError, fmt.Sprintf("--state %s: stored runs end in COMPLETED or FAILED", opts.State))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var ids []string
	if len(args) == 1 {
		if opts.Flowsheet != "" || opts.State != "" {
			return NewExitError(ExitCommandError, "--flowsheet and --state cannot be used with a run id")
		}
		ids = args
	} else {
		filter := store.Filter{Flowsheet: opts.Flowsheet, State: pipeline.State(opts.State)}
		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
	}

	result := ReplayResult{
		Runs:        make([]ReplayRunResult, 0, len(ids)),
		TotalRuns:   len(ids),
		AllVerified: true,
	}
	for _, id := range ids {
		rr, err := replayRun(ctx, st, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}
		f.VerboseLog("replayed %s: verified=%v", id, rr.Verified)
		if !rr.Verified {
			result.AllVerified = false
		}
		result.Runs = append(result.Runs, rr)
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.AllVerified {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "HISTORY_MISMATCH", Message: "replay verification failed"}
		}
		if err := f.Envelope(resp); err != nil {
			return err
		}
	} else {
		writeReplay(f, result)
	}

	if !result.AllVerified {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// replayRun verifies one run. A history mismatch is a result, not an
// error; only store failures are returned.
func replayRun(ctx context.Context, st *store.Store, id string) (ReplayRunResult, error) {
	res, err := st.Replay(ctx, id)
	switch {
	case err == nil:
		return ReplayRunResult{
			RunID:       id,
			State:       res.State,
			Transitions: res.Transitions,
			Digest:      res.Digest,
			Verified:    true,
		}, nil
	case errors.Is(err, pipeline.ErrHistoryMismatch):
		return ReplayRunResult{RunID: id, Error: err.Error()}, nil
	}
	return ReplayRunResult{}, err
}

func writeReplay(f *OutputFormatter, result ReplayResult) {
	w := f.Writer
	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n\n", result.TotalRuns)
	for _, r := range result.Runs {
		if !r.Verified {
			fmt.Fprintf(w, "✗ %s\n  %s\n", r.RunID, r.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s: %s after %d transitions\n", r.RunID, r.State, r.Transitions)
		if f.Verbose {
			fmt.Fprintf(w, "  digest %s\n", r.Digest)
		}
	}
	fmt.Fprintln(w)

	if result.AllVerified {
		fmt.Fprintln(w, "✓ All runs verified")
		return
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
}
