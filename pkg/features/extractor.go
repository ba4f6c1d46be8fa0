// Package features turns samples into fixed-length feature vectors.
//
// Every extractor is a pure function of the sample's pixels (and spectral
// bands, where used) for a fixed configuration: repeated calls on the same
// sample return identical vectors.
package features

import (
	"errors"
	"fmt"
	"io"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

// ErrUnreadableSample is returned when a sample has no decodable pixels or
// degenerate dimensions.
var ErrUnreadableSample = errors.New("unreadable sample")

// Extractor converts a sample to a feature vector.
type Extractor interface {
	// Extract returns the feature vector for s.
	Extract(s dataset.Sample) ([]float64, error)

	// Dim returns the fixed vector length.
	Dim() int

	// Name identifies the strategy.
	Name() string
}

// checkSample rejects samples that cannot be rasterized.
func checkSample(s dataset.Sample) error {
	if s.Image == nil {
		return fmt.Errorf("%w: %s has no image data", ErrUnreadableSample, s.ID)
	}
	w, h := s.Bounds()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %s has degenerate size %dx%d", ErrUnreadableSample, s.ID, w, h)
	}
	return nil
}

// ExtractAll extracts every sample, stopping at the first failure.
func ExtractAll(e Extractor, samples []dataset.Sample) ([][]float64, error) {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		v, err := e.Extract(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Close releases resources held by e, such as an inference session behind
// its backbone. Extractors without resources are left alone.
func Close(e Extractor) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func closeBackbone(b Backbone) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
