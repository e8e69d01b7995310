package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hygiene/internal/status"
	"github.com/roach88/hygiene/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	Redis    string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the latest state of a run",
		Long: `Show the latest status snapshot of a run, read from the Redis status
store a run or server publishes to, or from a run database.

Examples:
  hygiene status --redis localhost:6379 0192f8e4-...
  hygiene status --db ./runs.db test-run-0001`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "read the run from this SQLite database")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "read the snapshot from the Redis server at this address")
	cmd.MarkFlagsOneRequired("db", "redis")
	cmd.MarkFlagsMutuallyExclusive("db", "redis")

	return cmd
}

func runStatus(opts *StatusOptions, id string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	var snap status.Snapshot
	if opts.Redis != "" {
		rs := status.NewRedis(opts.Redis, "", 0)
		defer rs.Close()
		var err error
		snap, err = rs.Get(ctx, id)
		if errors.Is(err, status.ErrNotFound) {
			return notFound(f, id)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read status", err)
		}
	} else {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		rec, err := st.LoadRun(ctx, id)
		if errors.Is(err, store.ErrRunNotFound) {
			return notFound(f, id)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load run", err)
		}
		snap = rec.Run.Snapshot()
	}

	if f.JSON() {
		return f.Envelope(CLIResponse{Status: "ok", Data: snap, RunID: id})
	}
	fmt.Fprintf(f.Writer, "%s: %s (seq %d)\n", snap.RunID, snap.State, snap.Seq)
	if snap.Message != "" {
		fmt.Fprintf(f.Writer, "  %s\n", snap.Message)
	}
	return nil
}

func notFound(f *OutputFormatter, id string) error {
	msg := fmt.Sprintf("run %s not found", id)
	if err := f.Error("NOT_FOUND", msg, nil); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}
