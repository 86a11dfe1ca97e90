package valuefn

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"slices"
)

// encoded is the serialized form of a ValueFunction
type encoded struct {
	Kind       Kind
	Features   int
	Actions    int
	Hidden     []int
	Activation string
	Weights    [][]float64
}

func (e encoded) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("gobencode: %w", err)
	}
	return buf.Bytes(), nil
}

// decode decodes data and checks that it describes a value function
// with the same architecture as want
func decode(data []byte, want encoded) (encoded, error) {
	var e encoded
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return encoded{}, fmt.Errorf("gobdecode: %w", err)
	}

	if e.Kind != want.Kind {
		return encoded{}, fmt.Errorf("gobdecode: cannot decode %v into %v: %w",
			e.Kind, want.Kind, ErrShapeMismatch)
	}
	if e.Features != want.Features || e.Actions != want.Actions {
		return encoded{}, fmt.Errorf("gobdecode: invalid shape"+
			"\n\twant(%v -> %v)\n\thave(%v -> %v): %w", want.Features,
			want.Actions, e.Features, e.Actions, ErrShapeMismatch)
	}
	if !slices.Equal(e.Hidden, want.Hidden) || e.Activation != want.Activation {
		return encoded{}, fmt.Errorf("gobdecode: invalid architecture"+
			"\n\twant(%v %v)\n\thave(%v %v): %w", want.Hidden, want.Activation,
			e.Hidden, e.Activation, ErrShapeMismatch)
	}
	return e, nil
}
