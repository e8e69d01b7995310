package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/status"
	"github.com/roach88/hygiene/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Redis    string
	RunID    string

	MaxRecoveryAttempts int
	NoRelaxedSolve      bool
	SolveTimeout        time.Duration
	TearStreams         []string
	MaxTears            int

	// RunIDs overrides the run id generator (for testing). If nil, ids
	// are UUIDv7.
	RunIDs pipeline.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <flowsheet>",
		Short: "Run the hygiene pipeline on a flowsheet",
		Long: `Build a flowsheet from a YAML, JSON or CUE file and drive it through
the hygiene pipeline. The file's pipeline section sets the run config;
flags given on the command line override it.

Exit codes:
  0 - Run completed
  1 - Run failed, or the flowsheet is invalid
  2 - Command error (file or database unavailable, bad flags)

Examples:
  hygiene run ./flowsheets/ro-train.yaml
  hygiene run --db ./runs.db ./flowsheets/recycle.cue --tear recycle
  hygiene run --no-relaxed-solve --format json ./flowsheets/pump.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlowsheet(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "publish run status to the Redis server at this address")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id (default: generated UUIDv7)")
	cmd.Flags().IntVar(&opts.MaxRecoveryAttempts, "max-recovery-attempts", 0, "override max_recovery_attempts")
	cmd.Flags().BoolVar(&opts.NoRelaxedSolve, "no-relaxed-solve", false, "fail on the first unsuccessful solve")
	cmd.Flags().DurationVar(&opts.SolveTimeout, "solve-timeout", 0, "override solve_timeout")
	cmd.Flags().StringSliceVar(&opts.TearStreams, "tear", nil, "stream to tear before heuristic selection (repeatable)")
	cmd.Flags().IntVar(&opts.MaxTears, "max-tears", 0, "override max_tears")

	return cmd
}

// applyFlags lays explicitly set flags over cfg.
func (o *RunOptions) applyFlags(cmd *cobra.Command, cfg *pipeline.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-recovery-attempts") {
		cfg.MaxRecoveryAttempts = o.MaxRecoveryAttempts
	}
	if flags.Changed("no-relaxed-solve") {
		cfg.EnableRelaxedSolve = !o.NoRelaxedSolve
	}
	if flags.Changed("solve-timeout") {
		cfg.SolveTimeout = o.SolveTimeout
	}
	if flags.Changed("tear") {
		cfg.TearStreams = o.TearStreams
	}
	if flags.Changed("max-tears") {
		cfg.MaxTears = o.MaxTears
	}
}

func runFlowsheet(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	l, err := loadFlowsheet(path)
	if err != nil {
		return reportDocument(f, path, err)
	}
	opts.applyFlags(cmd, &l.cfg)
	if err := l.cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid run config", err)
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	popts := []pipeline.Option{pipeline.WithLogger(logger)}
	if opts.RunIDs != nil {
		popts = append(popts, pipeline.WithRunIDs(opts.RunIDs))
	}
	if opts.Redis != "" {
		rs := status.NewRedis(opts.Redis, "", 0)
		defer rs.Close()
		popts = append(popts, pipeline.WithStatusStore(rs))
	}
	pipe := pipeline.New(popts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var run *pipeline.Run
	if opts.RunID != "" {
		run, err = pipe.RunWithID(ctx, opts.RunID, l.model, l.cfg)
	} else {
		run, err = pipe.Run(ctx, l.model, l.cfg)
	}
	if run == nil {
		return WrapExitError(ExitCommandError, "failed to start run", err)
	}

	if st != nil {
		if saveErr := st.SaveRun(context.WithoutCancel(ctx), l.doc.Name, run); saveErr != nil {
			return WrapExitError(ExitCommandError, "failed to record run", saveErr)
		}
		f.VerboseLog("recorded run %s in %s", run.ID, opts.Database)
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: run, RunID: run.ID}
		if run.Failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: string(run.Failure.Code), Message: run.Failure.Message}
		}
		if encErr := f.Envelope(resp); encErr != nil {
			return encErr
		}
	} else {
		writeRun(f.Writer, run)
	}

	if !run.Succeeded() {
		msg := fmt.Sprintf("run %s failed", run.ID)
		if run.Failure != nil {
			msg += ": " + string(run.Failure.Code)
		}
		return NewExitError(ExitFailure, msg)
	}
	return nil
}

// writeRun prints the history and outcome of a run.
func writeRun(w io.Writer, run *pipeline.Run) {
	fmt.Fprintf(w, "Run %s\n", run.ID)
	for _, t := range run.History {
		mark := "✓"
		if !t.Success {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %2d %s -> %s (%s): %s\n", mark, t.Seq, t.From, t.To, t.Action, t.Message)
	}
	for _, warn := range run.Warnings {
		fmt.Fprintf(w, "  warning %s: %s\n", warn.Code, warn.Message)
	}
	if run.Failure != nil {
		fmt.Fprintf(w, "Failed in %s [%s]: %s\n", run.Failure.State, run.Failure.Code, run.Failure.Message)
		return
	}
	fmt.Fprintf(w, "Completed in %d transitions\n", len(run.History))
}
