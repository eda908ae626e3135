package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/querybind/internal/canonical"
	"github.com/roach88/querybind/internal/scenario"
)

// Snapshot captures every outcome of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName string     `json:"scenario_name"`
	Outcomes     []*Outcome `json:"outcomes"`
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON
// serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	outcomes := make([]any, len(s.Outcomes))
	for i, o := range s.Outcomes {
		outcomes[i] = o.toCanonicalMap()
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"outcomes":      outcomes,
	}
}

// MarshalSnapshot renders the outcomes of a run as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := Snapshot{ScenarioName: name, Outcomes: result.Outcomes}
	return canonical.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden runs a scenario and compares its outcomes against a golden
// file stored in testdata/golden/{scenario name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the run result so callers can also check expectations.
// Test failure (via goldie) occurs if the outcomes don't match the golden
// file.
func RunWithGolden(t *testing.T, h *Harness, c *scenario.Compiled) (*Result, error) {
	t.Helper()

	result, err := h.Run(context.Background(), c)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, c.Scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the outcomes of an existing run against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
