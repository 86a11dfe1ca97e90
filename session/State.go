package session

// State is the state of a Session
type State int

const (
	// AwaitingReset is the state before an episode has begun. The
	// session sends its start command and waits for the initial state.
	AwaitingReset State = iota

	// Active is the state while an episode is in progress
	Active

	// Terminated is the state once an episode has ended
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingReset:
		return "AwaitingReset"
	case Active:
		return "Active"
	case Terminated:
		return "Terminated"
	}
	return "Unknown"
}
