package detectors

import (
	"context"
	"fmt"
)

// ScoreStream scores vectors from input until it is closed or ctx is done.
// The first vector that fails to score stops the stream with its error.
func (m Model) ScoreStream(ctx context.Context, input <-chan []float64, output chan<- Result) error {
	if m.Scorer == nil || m.State == nil {
		return ErrNotCalibrated
	}

	var n int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vector, ok := <-input:
			if !ok {
				return nil
			}

			r, err := m.Scorer.Score(vector, m.State)
			if err != nil {
				return fmt.Errorf("vector %d: %w", n, err)
			}
			n++

			select {
			case output <- r:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
