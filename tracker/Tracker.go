// Package tracker implements Trackers, which record per-episode data
// from the timesteps of a session.
package tracker

import (
	"encoding/gob"
	"fmt"
	"io"

	ts "github.com/samuelfneumann/gamelearn/timestep"
)

// Tracker keeps track of episode data as timesteps are observed
type Tracker interface {
	Track(t ts.TimeStep)
}

// Saver is a Tracker whose data can be saved
type Saver interface {
	Tracker
	Save(w io.Writer) error
}

// save gob-encodes data to w
func save(w io.Writer, data any) error {
	if err := gob.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("save: could not encode data: %w", err)
	}
	return nil
}

// SaveReturns encodes episode returns to w in the format of
// Return.Save
func SaveReturns(w io.Writer, returns []float64) error {
	return save(w, returns)
}

// LoadReturns decodes episode returns written by Return.Save
func LoadReturns(r io.Reader) ([]float64, error) {
	var data []float64
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadreturns: %w", err)
	}
	return data, nil
}

// LoadLengths decodes episode lengths written by EpisodeLength.Save
func LoadLengths(r io.Reader) ([]int, error) {
	var data []int
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadlengths: %w", err)
	}
	return data, nil
}
