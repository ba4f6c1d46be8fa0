// Package dataset loads fish imagery samples: RGB images, optional
// hyperspectral band images paired by file name, and JSON disease labels.
package dataset

import (
	"image"
)

// Sample is one unit of input. Samples are immutable once loaded.
type Sample struct {
	ID    string
	Image image.Image
	// Spectral holds hyperspectral band images in band order, if any.
	Spectral []image.Image
	// Labels lists disease tags; empty means no label is available.
	Labels []string
	// Source records the file the image was read from.
	Source string
}

// HasLabels reports whether any disease tag is attached.
func (s Sample) HasLabels() bool { return len(s.Labels) > 0 }

// Bounds returns the image size, or zero when no image is present.
func (s Sample) Bounds() (width, height int) {
	if s.Image == nil {
		return 0, 0
	}
	b := s.Image.Bounds()
	return b.Dx(), b.Dy()
}

// FromImage wraps an in-memory image as a sample.
func FromImage(id string, img image.Image) Sample {
	return Sample{ID: id, Image: img}
}
