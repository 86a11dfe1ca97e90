// Package action defines the discrete action set of the game and the
// control commands used to begin episodes.
//
// Actions carry a stable numeric code which is what the value function
// indexes and what is sent to the game. Translation to and from the wire
// format happens only in the transport package.
package action

import "fmt"

// Action is a discrete game action identified by its numeric code
type Action int

// The actions understood by the platformer game. Games with larger
// action sets simply use codes beyond Idle.
const (
	Left Action = iota
	Right
	Jump
	Idle
)

// DefaultCount is the number of actions of the platformer game
const DefaultCount = 4

// String implements the fmt.Stringer interface
func (a Action) String() string {
	switch a {
	case Left:
		return "Left"
	case Right:
		return "Right"
	case Jump:
		return "Jump"
	case Idle:
		return "Idle"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Code returns the numeric code of the action
func (a Action) Code() int {
	return int(a)
}

// Valid returns whether the action is a member of an action set with
// count actions, enumerated from 0.
func (a Action) Valid(count int) bool {
	return a >= 0 && int(a) < count
}

// Control is a command that begins an episode rather than taking a
// step in the game
type Control string

const (
	// Reset restarts the game unconditionally
	Reset Control = "Reset"

	// Start starts the game only if it is not already running
	Start Control = "Start"
)

// Valid returns whether c is a known control command
func (c Control) Valid() bool {
	return c == Reset || c == Start
}

// ParseControl returns the Control named by s
func ParseControl(s string) (Control, error) {
	c := Control(s)
	if !c.Valid() {
		return "", fmt.Errorf("parsecontrol: unknown control command %q", s)
	}
	return c, nil
}
