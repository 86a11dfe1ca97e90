// Package transport carries the agent's messages to and from a game.
//
// Messages are JSON text frames. The agent sends
//
//	{"action": "Reset"}, {"action": "Start"} or {"action": <code>}
//
// and the game answers with
//
//	{"state": <nested array of numbers>, "reward": <number>, "done": <bool>}
//
// where the answer to a Reset or Start carries only the state. Nested
// states are flattened in row-major order as they are decoded.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/samuelfneumann/gamelearn/action"
)

// Transport is a bidirectional message channel to a single game
type Transport interface {
	Send(ctx context.Context, m Message) error
	Receive(ctx context.Context) (Observation, error)
	Close() error
}

// Message is a message from the agent to a game. A Message holds
// either a control command or an action.
type Message struct {
	Control action.Control
	Action  action.Action
}

// ControlMessage returns a Message carrying a control command
func ControlMessage(c action.Control) Message {
	return Message{Control: c}
}

// ActionMessage returns a Message carrying an action
func ActionMessage(a action.Action) Message {
	return Message{Action: a}
}

// IsControl returns whether m carries a control command
func (m Message) IsControl() bool {
	return m.Control != ""
}

// String implements the fmt.Stringer interface
func (m Message) String() string {
	if m.IsControl() {
		return string(m.Control)
	}
	return m.Action.String()
}

type wireMessage struct {
	Action any `json:"action"`
}

// Encode returns the wire encoding of m
func Encode(m Message) ([]byte, error) {
	if m.IsControl() {
		if !m.Control.Valid() {
			return nil, &Error{Op: "encode", Err: fmt.Errorf("unknown "+
				"control command %q", m.Control)}
		}
		return json.Marshal(wireMessage{Action: string(m.Control)})
	}

	if m.Action < 0 {
		return nil, &Error{Op: "encode", Err: fmt.Errorf("invalid action "+
			"%d", m.Action)}
	}
	return json.Marshal(wireMessage{Action: m.Action.Code()})
}

// DecodeMessage decodes a message sent by the agent. It is the inverse
// of Encode and is used by simulated games.
func DecodeMessage(data []byte) (Message, error) {
	var w struct {
		Action json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, protocolError("%v", err)
	}
	if len(w.Action) == 0 {
		return Message{}, protocolError("missing action")
	}

	var name string
	if err := json.Unmarshal(w.Action, &name); err == nil {
		c, err := action.ParseControl(name)
		if err != nil {
			return Message{}, protocolError("%v", err)
		}
		return ControlMessage(c), nil
	}

	var code int
	if err := json.Unmarshal(w.Action, &code); err != nil || code < 0 {
		return Message{}, protocolError("invalid action %s", w.Action)
	}
	return ActionMessage(action.Action(code)), nil
}

// Observation is a message from a game to the agent
type Observation struct {
	State  []float64 // Flattened in row-major order
	Shape  []int     // Shape of the state before flattening
	Reward float64
	Done   bool

	// Partial is true if the reward or done flag was absent, as in the
	// response to a control command
	Partial bool
}

// Decode decodes a message sent by a game. A missing or non-numeric
// state is a protocol error.
func Decode(data []byte) (Observation, error) {
	var w struct {
		State  json.RawMessage `json:"state"`
		Reward *float64        `json:"reward"`
		Done   *bool           `json:"done"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Observation{}, protocolError("%v", err)
	}
	if len(w.State) == 0 || bytes.Equal(w.State, []byte("null")) {
		return Observation{}, protocolError("missing state")
	}

	var nested any
	if err := json.Unmarshal(w.State, &nested); err != nil {
		return Observation{}, protocolError("state: %v", err)
	}

	state, shape, err := flatten(nested)
	if err != nil {
		return Observation{}, protocolError("state: %v", err)
	}

	obs := Observation{
		State:   state,
		Shape:   shape,
		Partial: w.Reward == nil || w.Done == nil,
	}
	if w.Reward != nil {
		obs.Reward = *w.Reward
	}
	if w.Done != nil {
		obs.Done = *w.Done
	}
	return obs, nil
}

// flatten flattens a nested array of numbers in row-major order and
// returns its shape. Arrays must be rectangular. A bare number is a
// state of shape [1].
func flatten(v any) ([]float64, []int, error) {
	switch v := v.(type) {
	case float64:
		return []float64{v}, []int{1}, nil

	case []any:
		if len(v) == 0 {
			return nil, nil, fmt.Errorf("empty array")
		}

		// A row of numbers
		if _, ok := v[0].(float64); ok {
			flat := make([]float64, len(v))
			for i, elem := range v {
				f, ok := elem.(float64)
				if !ok {
					return nil, nil, fmt.Errorf("non-numeric element at "+
						"index %d", i)
				}
				flat[i] = f
			}
			return flat, []int{len(v)}, nil
		}

		var flat []float64
		var inner []int
		for i, elem := range v {
			if _, ok := elem.([]any); !ok {
				return nil, nil, fmt.Errorf("mixed nesting at index %d", i)
			}
			sub, shape, err := flatten(elem)
			if err != nil {
				return nil, nil, err
			}
			if i > 0 && !slices.Equal(inner, shape) {
				return nil, nil, fmt.Errorf("ragged array at index %d", i)
			}
			inner = shape
			flat = append(flat, sub...)
		}
		return flat, append([]int{len(v)}, inner...), nil
	}

	return nil, nil, fmt.Errorf("non-numeric value %v", v)
}
