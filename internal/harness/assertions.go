package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/recovery"
)

// Valuer reads variable values from the model a run solved.
type Valuer interface {
	Value(path string) (float64, error)
}

// AssertionContext provides what assertions inspect.
type AssertionContext struct {
	Run   *pipeline.Run
	Model Valuer
}

// AssertionError is returned when an assertion fails.
// It includes the visited states to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	States   []pipeline.State
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.States) > 0 {
		names := make([]string, len(e.States))
		for i, s := range e.States {
			names[i] = string(s)
		}
		fmt.Fprintf(&buf, "  States: %s\n", strings.Join(names, " -> "))
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages
// in assertion order.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	run := actx.Run
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, States: run.States()}
	}

	switch a.Type {
	case AssertFinalState:
		if run.State != pipeline.State(a.State) {
			return fail("final state "+a.State, string(run.State)+failureSuffix(run))
		}

	case AssertStateSequence:
		want := make([]pipeline.State, len(a.States))
		for i, s := range a.States {
			want[i] = pipeline.State(s)
		}
		if got := run.States(); !slices.Equal(got, want) {
			return fail(fmt.Sprintf("states %v", want), fmt.Sprintf("states %v", got))
		}

	case AssertStateVisits:
		n := 0
		for _, s := range run.States() {
			if s == pipeline.State(a.State) {
				n++
			}
		}
		if n != *a.Count {
			return fail(fmt.Sprintf("%d visits to %s", *a.Count, a.State), fmt.Sprintf("%d visits", n))
		}

	case AssertFailureCode:
		if run.Failure == nil {
			return fail("failure code "+a.Code, "run did not fail")
		}
		if run.Failure.Code != pipeline.Code(a.Code) {
			return fail("failure code "+a.Code, string(run.Failure.Code))
		}

	case AssertRecoveryStrategy:
		if run.Recovery == nil {
			return fail("recovery by "+a.Strategy, "recovery did not run")
		}
		if got := lastStrategy(run.Recovery); got != recovery.Strategy(a.Strategy) {
			return fail("recovery by "+a.Strategy, fmt.Sprintf("%q", got))
		}

	case AssertFixesCount:
		if run.DOF == nil {
			return fail(fmt.Sprintf("%d fixes", *a.Count), "DOF resolution did not complete")
		}
		if len(run.DOF.Fixes) != *a.Count {
			return fail(fmt.Sprintf("%d fixes", *a.Count), fmt.Sprintf("%d fixes", len(run.DOF.Fixes)))
		}

	case AssertTears:
		if run.Plan == nil {
			return fail(fmt.Sprintf("tears %v", a.Streams), "no initialization plan")
		}
		if !slices.Equal(run.Plan.Tears, a.Streams) && !(len(run.Plan.Tears) == 0 && len(a.Streams) == 0) {
			return fail(fmt.Sprintf("tears %v", a.Streams), fmt.Sprintf("tears %v", run.Plan.Tears))
		}

	case AssertValue:
		if actx.Model == nil {
			return fmt.Errorf("value assertion needs a model")
		}
		got, err := actx.Model.Value(a.Path)
		if err != nil {
			return fail(fmt.Sprintf("%s = %g", a.Path, *a.Expect), err.Error())
		}
		if math.Abs(got-*a.Expect) > a.Tolerance {
			return fail(fmt.Sprintf("%s = %g ± %g", a.Path, *a.Expect, a.Tolerance), fmt.Sprintf("%g", got))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// lastStrategy is the successful strategy, or the one tried last.
func lastStrategy(r *recovery.Result) recovery.Strategy {
	if r.Success {
		return r.Strategy
	}
	if len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Strategy
}

func failureSuffix(run *pipeline.Run) string {
	if run.Failure == nil {
		return ""
	}
	return fmt.Sprintf(" (%s: %s)", run.Failure.Code, run.Failure.Message)
}
