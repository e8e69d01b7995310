package harness

import "github.com/roach88/hygiene/internal/pipeline"

// TraceEvent is the message-free projection of one transition. Messages
// and details carry solver iteration counts and magnitudes, so golden
// comparison uses only the structural fields.
type TraceEvent struct {
	Seq     int64           `json:"seq"`
	From    pipeline.State  `json:"from"`
	To      pipeline.State  `json:"to"`
	Action  pipeline.Action `json:"action"`
	Success bool            `json:"success"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Run is the finished pipeline run.
	Run *pipeline.Run `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceOf projects a run history.
func traceOf(history []pipeline.Transition) []TraceEvent {
	out := make([]TraceEvent, len(history))
	for i, t := range history {
		out[i] = TraceEvent{Seq: t.Seq, From: t.From, To: t.To, Action: t.Action, Success: t.Success}
	}
	return out
}
