package domain

import "time"

// State is a node of the workflow state machine.
type State string

const (
	StateStart          State = "start"
	StateResolvingFiles State = "resolving_files"
	StateDispatch       State = "dispatch"
	StateProcessingFile State = "processing_file"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Snapshot is the persisted form of a workflow run: its state plus context.
type Snapshot struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Context   WorkflowContext `json:"context"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewSnapshot returns a run in the start state.
func NewSnapshot(id string) Snapshot {
	return Snapshot{ID: id, State: StateStart}
}
