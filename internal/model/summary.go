package model

import "time"

// StateCount is the number of centers in a state.
type StateCount struct {
	State   string `json:"state" yaml:"state"`
	Centers int    `json:"centers" yaml:"centers"`
}

// CenterCount is the number of stored incidents for a center.
type CenterCount struct {
	Code      string `json:"code" yaml:"code"`
	Name      string `json:"name" yaml:"name"`
	State     string `json:"state" yaml:"state"`
	Incidents int    `json:"incidents" yaml:"incidents"`
}

// CenterOutcome records what happened to one center during a run.
type CenterOutcome struct {
	Code      string `json:"code" yaml:"code"`
	Strategy  string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Rows      int    `json:"rows" yaml:"rows"`
	Processed int    `json:"processed" yaml:"processed"`
	Expected  int    `json:"expected" yaml:"expected"`
	Attempts  int    `json:"attempts" yaml:"attempts"`
	Complete  bool   `json:"complete" yaml:"complete"`
	Stored    int    `json:"stored" yaml:"stored"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunSummary is the report emitted at the end of every ingestion run.
type RunSummary struct {
	StartedAt    time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time       `json:"finished_at" yaml:"finished_at"`
	CentersFound int             `json:"centers_found" yaml:"centers_found"`
	Centers      []CenterOutcome `json:"centers" yaml:"centers"`
	States       []StateCount    `json:"states" yaml:"states"`
}

// IncidentsStored totals stored incidents across centers.
func (s RunSummary) IncidentsStored() int {
	n := 0
	for _, c := range s.Centers {
		n += c.Stored
	}
	return n
}
