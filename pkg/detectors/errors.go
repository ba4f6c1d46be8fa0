package detectors

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when too few reference vectors are supplied.
	ErrInsufficientData = errors.New("insufficient reference data")
	// ErrDimensionMismatch is returned when a vector length disagrees with the state.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrStateKind is returned when a state is scored by a different kind of scorer.
	ErrStateKind = errors.New("state belongs to a different scorer kind")
	// ErrNotCalibrated is returned when scoring without a state.
	ErrNotCalibrated = errors.New("scorer not calibrated")
)

// CheckReference validates a reference batch and returns its dimensionality.
// At least min vectors are required, all of equal non-zero length.
func CheckReference(reference [][]float64, min int) (int, error) {
	if min < 1 {
		min = 1
	}
	if len(reference) < min {
		return 0, fmt.Errorf("%w: got %d vectors, need at least %d", ErrInsufficientData, len(reference), min)
	}
	dim := len(reference[0])
	if dim == 0 {
		return 0, fmt.Errorf("%w: empty feature vector", ErrDimensionMismatch)
	}
	for i, row := range reference {
		if len(row) != dim {
			return 0, fmt.Errorf("%w: reference vector %d has %d values, expected %d", ErrDimensionMismatch, i, len(row), dim)
		}
	}
	return dim, nil
}

// CheckVector validates vector against state.
func CheckVector(vector []float64, state State, kind Kind) error {
	if state == nil {
		return ErrNotCalibrated
	}
	if state.Kind() != kind {
		return fmt.Errorf("%w: %s state scored by %s scorer", ErrStateKind, state.Kind(), kind)
	}
	if len(vector) != state.Dim() {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), state.Dim())
	}
	return nil
}
