package steady

import (
	"fmt"
	"time"
)

// SchemaVersion is the version of snapshot format written by this code
const SchemaVersion = 1

// Selection keeps UI choices and calculation flags
type Selection struct {
	SimulationStep string `json:"selectedSimulationStep" yaml:"selectedSimulationStep"`
	Mode           string `json:"selectedMode" yaml:"selectedMode"`
	Environment    string `json:"selectedEnvironment" yaml:"selectedEnvironment"`
	IsCalculating  bool   `json:"isCalculating" yaml:"isCalculating"`
	ShowResults    bool   `json:"showResults" yaml:"showResults"`
}

// Snapshot is the full state of inputs, outputs and UI selections at a point in time
type Snapshot struct {
	DataIN    ParameterSet `json:"dataIN" yaml:"dataIN"`
	DataOut   ParameterSet `json:"dataOut" yaml:"dataOut"`
	Selection `yaml:",inline"`
	// LastUpdated is epoch milliseconds, 0 for never updated
	LastUpdated int64 `json:"lastUpdated" yaml:"lastUpdated,omitempty"`
	Version     int   `json:"version,omitempty" yaml:"version,omitempty" jsonschema:"minimum=1"`
}

// Clone makes a deep copy, safe to modify
func (s Snapshot) Clone() Snapshot {
	res := s
	res.DataIN = s.DataIN.Clone()
	res.DataOut = s.DataOut.Clone()
	return res
}

// Stamp sets LastUpdated to ts
func (s *Snapshot) Stamp(ts time.Time) {
	s.LastUpdated = ts.UnixMilli()
}

// UpdatedAt returns LastUpdated as time, zero time if never updated
func (s Snapshot) UpdatedAt() time.Time {
	if s.LastUpdated == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastUpdated)
}

// Validate checks parameter sets
func (s Snapshot) Validate() error {
	if err := s.DataIN.Validate(); err != nil {
		return fmt.Errorf("dataIN: %w", err)
	}
	if err := s.DataOut.Validate(); err != nil {
		return fmt.Errorf("dataOut: %w", err)
	}
	return nil
}

// SelectionUpdate is a partial update of selection strings, nil fields are kept
type SelectionUpdate struct {
	SimulationStep *string `json:"selectedSimulationStep,omitempty"`
	Mode           *string `json:"selectedMode,omitempty"`
	Environment    *string `json:"selectedEnvironment,omitempty"`
}

func (u SelectionUpdate) apply(sel *Selection) {
	if u.SimulationStep != nil {
		sel.SimulationStep = *u.SimulationStep
	}
	if u.Mode != nil {
		sel.Mode = *u.Mode
	}
	if u.Environment != nil {
		sel.Environment = *u.Environment
	}
}
