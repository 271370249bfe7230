package domain

// Outcome is the result of a single Per-Machine Pipeline.
type Outcome int

const (
	OutcomeSkipped   Outcome = iota // No config, no start line, or no overlap
	OutcomeCommented                // Rendered, stored and commented
	OutcomeFailed                   // Failed at some step
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCommented:
		return "commented"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// MachineResult records what happened to one extracted definition.
type MachineResult struct {
	Name       string
	Line       int
	Outcome    Outcome
	StorageKey string // set once the artifact is stored
	Stored     bool   // false when an existing object was reused
	Err        error
}

// FileResult aggregates the machine results of one Per-File Stage.
type FileResult struct {
	Path     string
	Machines []MachineResult
}

// CountByOutcome returns counts of machine results grouped by outcome.
func (r FileResult) CountByOutcome() (skipped, commented, failed int) {
	for _, m := range r.Machines {
		switch m.Outcome {
		case OutcomeSkipped:
			skipped++
		case OutcomeCommented:
			commented++
		case OutcomeFailed:
			failed++
		}
	}
	return
}

// Errors returns the errors of failed machines in result order.
func (r FileResult) Errors() []error {
	var errs []error
	for _, m := range r.Machines {
		if m.Outcome == OutcomeFailed && m.Err != nil {
			errs = append(errs, m.Err)
		}
	}
	return errs
}
