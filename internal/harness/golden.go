package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/unitao/internal/ir"
)

// TraceSnapshot is the golden form of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts s to the JSON tree ir.MarshalCanonical accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"store":   ev.Store,
			"outcome": ev.Outcome,
		}
		if ev.Target != "" {
			m["target"] = ev.Target
		}
		if ev.Path != "" {
			m["path"] = ev.Path
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// MarshalTrace renders the canonical JSON snapshot of a trace.
func MarshalTrace(name string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario, fails t on any failed expectation or
// assertion, and compares the trace with testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace with the golden file
// testdata/golden/{scenarioName}.golden.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
