package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

const histEpsilon = 1e-10

// Handcrafted extracts color histograms, global intensity statistics and
// mean gradient magnitudes.
//
// Layout: 3 x bins normalized histograms (R, G, B), mean, std,
// mean |dx|, mean |dy|.
type Handcrafted struct {
	width, height int
	bins          int
}

// HandcraftedOption configures a Handcrafted extractor.
type HandcraftedOption func(*Handcrafted)

// WithResolution sets the grid the image is resampled to.
func WithResolution(width, height int) HandcraftedOption {
	return func(h *Handcrafted) {
		h.width, h.height = width, height
	}
}

// WithBins sets the histogram bin count per channel.
func WithBins(n int) HandcraftedOption {
	return func(h *Handcrafted) {
		h.bins = n
	}
}

// NewHandcrafted creates a handcrafted extractor (64x64, 16 bins by default).
func NewHandcrafted(opts ...HandcraftedOption) *Handcrafted {
	h := &Handcrafted{width: 64, height: 64, bins: 16}
	for _, opt := range opts {
		opt(h)
	}
	if h.bins < 1 {
		h.bins = 1
	}
	if h.width < 2 {
		h.width = 2
	}
	if h.height < 2 {
		h.height = 2
	}
	return h
}

// Name implements Extractor.
func (h *Handcrafted) Name() string { return "handcrafted" }

// Dim implements Extractor.
func (h *Handcrafted) Dim() int { return 3*h.bins + 4 }

// Bins returns the per-channel histogram length.
func (h *Handcrafted) Bins() int { return h.bins }

// Extract implements Extractor.
func (h *Handcrafted) Extract(s dataset.Sample) ([]float64, error) {
	if err := checkSample(s); err != nil {
		return nil, err
	}
	r := rasterize(s.Image, h.width, h.height)

	out := make([]float64, 0, h.Dim())
	for c := 0; c < 3; c++ {
		out = append(out, h.histogram(r.pix[c])...)
	}

	all := make([]float64, 0, 3*r.w*r.h)
	for c := 0; c < 3; c++ {
		all = append(all, r.pix[c]...)
	}
	mean, std := stat.PopMeanStdDev(all, nil)
	out = append(out, mean, std)

	dx, dy := gradients(r.luminance(), r.w, r.h)
	out = append(out, dx, dy)
	return out, nil
}

func (h *Handcrafted) histogram(plane []float64) []float64 {
	hist := make([]float64, h.bins)
	width := 256.0 / float64(h.bins)
	for _, v := range plane {
		b := int(math.Floor(v / width))
		if b >= h.bins {
			b = h.bins - 1
		}
		if b < 0 {
			b = 0
		}
		hist[b]++
	}
	var total float64
	for _, c := range hist {
		total += c
	}
	for i := range hist {
		hist[i] /= total + histEpsilon
	}
	return hist
}

// gradients returns the mean absolute horizontal and vertical differences.
func gradients(gray []float64, w, h int) (float64, float64) {
	var dx, dy float64
	for y := 0; y < h; y++ {
		for x := 0; x+1 < w; x++ {
			dx += math.Abs(gray[y*w+x+1] - gray[y*w+x])
		}
	}
	for y := 0; y+1 < h; y++ {
		for x := 0; x < w; x++ {
			dy += math.Abs(gray[(y+1)*w+x] - gray[y*w+x])
		}
	}
	return dx / float64(h*(w-1)), dy / float64((h-1)*w)
}
