// Package harness runs pipeline scenarios as executable contract tests.
//
// A scenario names a flowsheet file, optional configuration overrides, and
// assertions over the finished run. Every scenario runs against a freshly
// built model with a fixed run id and a fresh logical clock, so identical
// scenarios produce identical histories.
//
// # Scenario Format
//
//	name: bounded-pump
//	description: "Pump head exceeds the outlet bound; relaxation recovers"
//	flowsheet: flowsheets/bounded-pump.yaml
//	config:
//	  max_recovery_attempts: 3
//	assertions:
//	  - type: final_state
//	    state: COMPLETED
//	  - type: state_visits
//	    state: RELAXED_SOLVE
//	    count: 1
//	  - type: recovery_strategy
//	    strategy: bound_relaxation
//	  - type: value
//	    path: product.inlet.pressure
//	    expect: 601325
//	    tolerance: 1e-3
//
// The flowsheet path is resolved relative to the scenario file. Config keys
// are the pipeline configuration keys and override the flowsheet's own
// pipeline section.
//
// # Assertion Types
//
//   - final_state: the run ended in state
//   - state_sequence: the visited states equal states, starting at IDLE
//   - state_visits: state was entered exactly count times
//   - failure_code: the run failed with code
//   - recovery_strategy: recovery ran and its last action used strategy
//   - fixes_count: the DOF resolver applied exactly count fixes
//   - tears: the initialization plan tore exactly the streams listed
//   - value: the variable at path is within tolerance of expect
//
// # Golden Traces
//
// RunWithGolden compares the canonical JSON of the run's transitions
// (sequence, states, action and success, without messages) against
// testdata/golden/<name>.golden.
package harness
