package service

import (
	"fmt"

	"inkscribe-server/internal/apperr"
)

// FlowState is the stage an upload has reached.
type FlowState int

const (
	StateIdle FlowState = iota
	StateCreated
	StateUploading
	StateRecorded
	StateTranscribing
	StateFinalized
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreated:
		return "created"
	case StateUploading:
		return "uploading"
	case StateRecorded:
		return "recorded"
	case StateTranscribing:
		return "transcribing"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
)

// Any pre-final state may fail straight into Finalized. Finalized has no
// way out.
var flowTransitions = map[FlowState][]FlowState{
	StateIdle:         {StateCreated},
	StateCreated:      {StateUploading, StateFinalized},
	StateUploading:    {StateRecorded, StateFinalized},
	StateRecorded:     {StateTranscribing, StateFinalized},
	StateTranscribing: {StateFinalized},
}

func transition(from, to FlowState) error {
	for _, next := range flowTransitions[from] {
		if next == to {
			return nil
		}
	}
	return apperr.Wrap(apperr.ErrIllegalTransition, "flow", "transition", fmt.Sprintf("%s -> %s", from, to), nil)
}
