package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/roach88/hygiene/internal/flowspec"
	"github.com/roach88/hygiene/internal/pipeline"
)

// Run executes a scenario and returns the result.
//
// The flowsheet is loaded and built afresh, the scenario's config keys are
// laid over the flowsheet's pipeline section, and the run uses the
// scenario's fixed run id. Load, build and configuration problems are
// returned as errors; everything that happens inside the run, including
// systemic failures, is judged by the assertions.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	doc, err := flowspec.Load(scenario.Flowsheet)
	if err != nil {
		return nil, fmt.Errorf("failed to load flowsheet: %w", err)
	}
	if len(scenario.Config) > 0 {
		merged := make(map[string]any, len(doc.Pipeline)+len(scenario.Config))
		maps.Copy(merged, doc.Pipeline)
		maps.Copy(merged, scenario.Config)
		doc.Pipeline = merged
	}

	m, err := doc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build flowsheet: %w", err)
	}
	cfg, err := doc.Apply(pipeline.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("invalid scenario config: %w", err)
	}

	p := pipeline.New(pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	run, err := p.RunWithID(ctx, scenario.runID(), m, cfg)
	if run == nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	result := NewResult()
	result.Run = run
	result.Trace = traceOf(run.History)

	actx := &AssertionContext{Run: run, Model: m}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}
