package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/roach88/scoreboard/internal/projection"
	"github.com/roach88/scoreboard/internal/testutil"
)

// Snapshot is the golden-file form of a run.
type Snapshot struct {
	Scenario  string                `json:"scenario"`
	State     string                `json:"state"`
	Standings projection.Projection `json:"standings"`
}

// MarshalSnapshot renders result as indented JSON with a trailing newline.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	standings := result.Standings
	if standings == nil {
		standings = projection.Projection{}
	}
	data, err := json.MarshalIndent(Snapshot{
		Scenario:  name,
		State:     result.State,
		Standings: standings,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes scenario and compares the final ranking against
// testdata/golden/<scenario.Name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	data, err := MarshalSnapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	testutil.Golden(t).Assert(t, scenario.Name, data)
	return result, nil
}
