package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scoreboard/internal/engine"
	"github.com/roach88/scoreboard/internal/entry"
)

// Scenario is one conformance case.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Expect is checked once the last step has converged.
	Expect Expectation `yaml:"expect"`
}

// Step is a single action. Exactly one field is set.
type Step struct {
	Submit      *Submission `yaml:"submit,omitempty"`
	Compact     bool        `yaml:"compact,omitempty"`
	Fail        string      `yaml:"fail,omitempty"`
	Resubscribe bool        `yaml:"resubscribe,omitempty"`
}

// Submission is a draft record. Score and Prize accept any YAML value and
// are stored as its JSON encoding, so `score: "12"` stays a string.
type Submission struct {
	ID        string  `yaml:"id,omitempty"`
	Name      *string `yaml:"name,omitempty"`
	Score     any     `yaml:"score,omitempty"`
	Prize     any     `yaml:"prize,omitempty"`
	Timestamp any     `yaml:"timestamp,omitempty"`
}

// Expectation describes the converged end state.
type Expectation struct {
	// State is the engine state name. Empty means "live".
	State string `yaml:"state,omitempty"`

	// Standings must match the delivered ranking row for row.
	Standings []ExpectedStanding `yaml:"standings"`

	// Ranks maps a name lookup to its expected rank; 0 means unranked.
	Ranks map[string]int `yaml:"ranks,omitempty"`
}

// ExpectedStanding is one expected ranking row.
type ExpectedStanding struct {
	Rank        int     `yaml:"rank"`
	Name        string  `yaml:"name"`
	Best        float64 `yaml:"best"`
	Submissions int     `yaml:"submissions"`
	RecordID    string  `yaml:"record_id,omitempty"`
}

var validStates = []string{
	engine.Detached.String(),
	engine.Subscribing.String(),
	engine.Live.String(),
	engine.Errored.String(),
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields (typos) and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Record converts the submission into a draft entry.Record.
func (s *Submission) Record() (entry.Record, error) {
	rec := entry.Record{ID: s.ID, Name: s.Name}

	var err error
	if rec.Score, err = rawJSON(s.Score); err != nil {
		return entry.Record{}, fmt.Errorf("score: %w", err)
	}
	if rec.Prize, err = rawJSON(s.Prize); err != nil {
		return entry.Record{}, fmt.Errorf("prize: %w", err)
	}
	if rec.Timestamp, err = rawJSON(s.Timestamp); err != nil {
		return entry.Record{}, fmt.Errorf("timestamp: %w", err)
	}
	return rec, nil
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Submit != nil {
			if _, err := step.Submit.Record(); err != nil {
				return fmt.Errorf("steps[%d].submit: %w", i, err)
			}
		}
	}

	if s.Expect.State != "" && !contains(validStates, s.Expect.State) {
		return fmt.Errorf("expect.state: unknown state %q", s.Expect.State)
	}
	for i, want := range s.Expect.Standings {
		if want.Rank != i+1 {
			return fmt.Errorf("expect.standings[%d]: rank must be %d, got %d", i, i+1, want.Rank)
		}
		if want.Submissions < 1 {
			return fmt.Errorf("expect.standings[%d]: submissions must be positive", i)
		}
	}
	for name, rank := range s.Expect.Ranks {
		if rank < 0 {
			return fmt.Errorf("expect.ranks[%q]: rank must not be negative", name)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Submit != nil {
		set++
	}
	if step.Compact {
		set++
	}
	if step.Fail != "" {
		set++
	}
	if step.Resubscribe {
		set++
	}
	switch set {
	case 0:
		return fmt.Errorf("one of submit, compact, fail or resubscribe is required")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one action per step")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
