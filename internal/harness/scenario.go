package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hygiene/internal/pipeline"
)

// Scenario defines a pipeline conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flowsheet is the path of the flowsheet file. LoadScenario resolves
	// it relative to the scenario file.
	Flowsheet string `yaml:"flowsheet"`

	// Config overrides pipeline configuration keys.
	Config map[string]any `yaml:"config,omitempty"`

	// RunID is the fixed run id. Defaults to "scenario-<name>".
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the finished run.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks one property of a finished run. Which fields are read
// depends on Type.
type Assertion struct {
	Type string `yaml:"type"`

	State    string   `yaml:"state,omitempty"`
	States   []string `yaml:"states,omitempty"`
	Count    *int     `yaml:"count,omitempty"`
	Code     string   `yaml:"code,omitempty"`
	Strategy string   `yaml:"strategy,omitempty"`
	Streams  []string `yaml:"streams,omitempty"`

	Path      string   `yaml:"path,omitempty"`
	Expect    *float64 `yaml:"expect,omitempty"`
	Tolerance float64  `yaml:"tolerance,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState       = "final_state"
	AssertStateSequence    = "state_sequence"
	AssertStateVisits      = "state_visits"
	AssertFailureCode      = "failure_code"
	AssertRecoveryStrategy = "recovery_strategy"
	AssertFixesCount       = "fixes_count"
	AssertTears            = "tears"
	AssertValue            = "value"
)

// FlowsheetNotFoundError is returned when a scenario's flowsheet file does
// not exist.
type FlowsheetNotFoundError struct {
	Scenario     string
	Flowsheet    string
	ResolvedPath string
}

func (e *FlowsheetNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q references flowsheet %q which does not exist (resolved to: %s)",
		e.Scenario, e.Flowsheet, e.ResolvedPath)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Flowsheet != "" && !filepath.IsAbs(scenario.Flowsheet) {
		resolved := filepath.Join(filepath.Dir(path), scenario.Flowsheet)
		if _, err := os.Stat(resolved); os.IsNotExist(err) {
			return nil, &FlowsheetNotFoundError{
				Scenario:     scenario.Name,
				Flowsheet:    scenario.Flowsheet,
				ResolvedPath: resolved,
			}
		}
		scenario.Flowsheet = resolved
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// runID returns the scenario's fixed run id.
func (s *Scenario) runID() string {
	if s.RunID != "" {
		return s.RunID
	}
	return "scenario-" + s.Name
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Flowsheet == "" {
		return fmt.Errorf("flowsheet is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
		return validState(index, a.State)
	case AssertStateSequence:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for state_sequence", index)
		}
		for _, s := range a.States {
			if err := validState(index, s); err != nil {
				return err
			}
		}
	case AssertStateVisits:
		if a.State == "" || a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: state and a non-negative count are required for state_visits", index)
		}
		return validState(index, a.State)
	case AssertFailureCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for failure_code", index)
		}
	case AssertRecoveryStrategy:
		if a.Strategy == "" {
			return fmt.Errorf("assertions[%d]: strategy is required for recovery_strategy", index)
		}
	case AssertFixesCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for fixes_count", index)
		}
	case AssertTears:
		if a.Streams == nil {
			return fmt.Errorf("assertions[%d]: streams is required for tears (use [] for none)", index)
		}
	case AssertValue:
		if a.Path == "" || a.Expect == nil {
			return fmt.Errorf("assertions[%d]: path and expect are required for value", index)
		}
		if a.Tolerance < 0 {
			return fmt.Errorf("assertions[%d]: tolerance must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

var knownStates = []pipeline.State{
	pipeline.StateIdle, pipeline.StateDOFCheck, pipeline.StateScaling,
	pipeline.StateInitialization, pipeline.StatePreSolve, pipeline.StateSolving,
	pipeline.StatePostSolve, pipeline.StateRelaxedSolve, pipeline.StateCompleted,
	pipeline.StateFailed,
}

func validState(index int, s string) error {
	for _, known := range knownStates {
		if pipeline.State(s) == known {
			return nil
		}
	}
	names := make([]string, len(knownStates))
	for i, k := range knownStates {
		names[i] = string(k)
	}
	return fmt.Errorf("assertions[%d]: unknown state %q (want one of %s)", index, s, strings.Join(names, ", "))
}
