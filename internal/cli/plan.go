package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hygiene/internal/dof"
	"github.com/roach88/hygiene/internal/initializer"
	"github.com/roach88/hygiene/internal/pipeline"
)

// PlanReport is what plan prints: the DOF resolution and the
// initialization order, without solving.
type PlanReport struct {
	Flowsheet string            `json:"flowsheet"`
	DOF       *dof.Result       `json:"dof"`
	Plan      *initializer.Plan `json:"plan,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <flowsheet>",
		Short: "Show DOF fixes and initialization order without solving",
		Long: `Resolve degrees of freedom from the defaults table and plan the
sequential initialization order, tearing recycle streams as needed.
Nothing is initialized or solved.

Exit codes:
  0 - The flowsheet is square and every cycle could be torn
  1 - Under- or overspecified, unresolvable cycle, or invalid flowsheet
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPlan(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts, cmd.ErrOrStderr())

	l, err := loadFlowsheet(path)
	if err != nil {
		return reportDocument(f, path, err)
	}

	res, err := dof.New(dof.WithLogger(logger)).Resolve(cmd.Context(), l.model, l.cfg.Defaults)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve DOF", err)
	}
	report := PlanReport{Flowsheet: l.doc.Name, DOF: res}

	var planErr error
	if res.Status == dof.StatusReady {
		report.Plan, planErr = initializer.PlanOrder(l.model, l.cfg.TearStreams, l.cfg.MaxTears)
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: report}
		if ce := planFailure(res, planErr); ce != nil {
			resp.Status = "error"
			resp.Error = ce
		}
		if encErr := f.Envelope(resp); encErr != nil {
			return encErr
		}
	} else {
		writePlan(f.Writer, report, planErr)
	}

	if ce := planFailure(res, planErr); ce != nil {
		return NewExitError(ExitFailure, ce.Message)
	}
	return nil
}

// planFailure maps an unready DOF status or a planning error onto the
// pipeline failure code a run would report.
func planFailure(res *dof.Result, planErr error) *CLIError {
	switch res.Status {
	case dof.StatusUnderspecified:
		return &CLIError{Code: string(pipeline.CodeUnderspecified), Message: "underspecified units: " + strings.Join(res.UnitsWith(dof.StatusUnderspecified), ", ")}
	case dof.StatusOverspecified:
		return &CLIError{Code: string(pipeline.CodeOverspecified), Message: fmt.Sprintf("overspecified (total DOF %d)", res.Total)}
	}
	if planErr == nil {
		return nil
	}
	var ce *initializer.CycleError
	if errors.As(planErr, &ce) {
		return &CLIError{Code: ce.Code(), Message: ce.Error()}
	}
	return &CLIError{Code: string(pipeline.CodeSystemError), Message: planErr.Error()}
}

func writePlan(w io.Writer, r PlanReport, planErr error) {
	fmt.Fprintf(w, "Flowsheet %s\n", r.Flowsheet)
	fmt.Fprintf(w, "DOF: %s (total %d)\n", r.DOF.Status, r.DOF.Total)
	for _, u := range r.DOF.Units {
		fmt.Fprintf(w, "  %s (%s): %d -> %d %s\n", u.Unit, u.Type, u.Before, u.After, u.Status)
		if len(u.Remaining) > 0 {
			fmt.Fprintf(w, "    free: %s\n", strings.Join(u.Remaining, ", "))
		}
	}
	if len(r.DOF.Fixes) > 0 {
		fmt.Fprintln(w, "Fixes:")
		for _, fix := range r.DOF.Fixes {
			fmt.Fprintf(w, "  %s = %g\n", fix.Path, fix.Value)
		}
	}
	for _, pf := range r.DOF.Errors {
		fmt.Fprintf(w, "  unresolved default %s: %s\n", pf.Variable, pf.Error)
	}

	if planErr != nil {
		fmt.Fprintf(w, "Planning failed: %v\n", planErr)
		return
	}
	if r.Plan == nil {
		return
	}
	fmt.Fprintf(w, "Order: %s\n", strings.Join(r.Plan.Order, ", "))
	if len(r.Plan.Tears) == 0 {
		fmt.Fprintln(w, "Tears: none")
	} else {
		fmt.Fprintf(w, "Tears: %s\n", strings.Join(r.Plan.Tears, ", "))
	}
	if len(r.Plan.Ignored) > 0 {
		fmt.Fprintf(w, "Ignored tears: %s\n", strings.Join(r.Plan.Ignored, ", "))
	}
}
