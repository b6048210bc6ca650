package types

import "sort"

// SweepPoint is one measurement at a single value of the scanned variable.
type SweepPoint struct {
	// X is the independent-variable value (delay, drive amplitude, ...).
	X float64 `yaml:"x" json:"x"`

	// Counts maps each measured outcome label to the number of shots that
	// produced it. Labels are bitstrings, most significant channel first.
	Counts map[string]int64 `yaml:"counts" json:"counts"`

	// Shots is the reported shot total. Zero means "derive from Counts".
	Shots int64 `yaml:"shots,omitempty" json:"shots,omitempty"`
}

// CountTotal returns the sum of all outcome counts.
func (p SweepPoint) CountTotal() int64 {
	var n int64
	for _, c := range p.Counts {
		n += c
	}
	return n
}

// Sweep is an ordered set of measurements over one scanned variable.
type Sweep struct {
	// ID identifies the sweep (qubit, chain, job). Unique within a run.
	ID string `yaml:"id" json:"id"`

	// Labels carries free-form metadata forwarded to reports.
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	Points []SweepPoint `yaml:"points" json:"points"`
}

// Xs returns the independent-variable values in sweep order.
func (s Sweep) Xs() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.X
	}
	return out
}

// SortByX orders the points by ascending X. Ingest sources that cannot
// guarantee ordering (e.g. exposition text) call this before handing off.
func (s *Sweep) SortByX() {
	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].X < s.Points[j].X })
}
