package detectors

import (
	"encoding/gob"
	"fmt"
	"io"
)

// envelope wraps a state so gob can carry the concrete type.
type envelope struct {
	State State
}

// SaveState serializes a calibrated state. Concrete state types register
// themselves with gob in their package init.
func SaveState(w io.Writer, state State) error {
	if state == nil {
		return ErrNotCalibrated
	}
	if err := gob.NewEncoder(w).Encode(&envelope{State: state}); err != nil {
		return fmt.Errorf("encode %s state: %w", state.Kind(), err)
	}
	return nil
}

// LoadState deserializes a state written by SaveState.
func LoadState(r io.Reader) (State, error) {
	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if env.State == nil {
		return nil, ErrNotCalibrated
	}
	return env.State, nil
}
