package pipeline

import "time"

// State is one phase of the recording cycle. complete and error persist
// until the next start; both accept start exactly like idle does.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// RecordingSession ties the events of one capture cycle together. It is
// created on the transition into recording and discarded when the cycle
// reaches a terminal state.
type RecordingSession struct {
	ID        string
	StartedAt time.Time
}
