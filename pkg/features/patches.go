package features

import (
	"fmt"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

// Patches emits one embedding per spatial location of a backbone's feature
// map, flattened location by location. The set is kept whole so that a
// memory-bank scorer can split it back with PatchDim.
type Patches struct {
	backbone Backbone
}

// NewPatches creates a patch extractor. A nil backbone selects a 32x32 input
// with two blocks of 8 and 16 channels, giving an 8x8 grid of 16-value patches.
func NewPatches(b Backbone) *Patches {
	if b == nil {
		b = NewConvBackbone(32, []int{8, 16}, 42)
	}
	return &Patches{backbone: b}
}

// Name implements Extractor.
func (p *Patches) Name() string { return "patches" }

// Dim implements Extractor.
func (p *Patches) Dim() int {
	c, h, w := p.backbone.OutputShape()
	return c * h * w
}

// PatchDim returns the length of one patch embedding.
func (p *Patches) PatchDim() int {
	c, _, _ := p.backbone.OutputShape()
	return c
}

// Extract implements Extractor.
func (p *Patches) Extract(s dataset.Sample) ([]float64, error) {
	if err := checkSample(s); err != nil {
		return nil, err
	}
	fm, err := p.backbone.Forward(s.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSample, s.ID, err)
	}

	out := make([]float64, 0, p.Dim())
	for y := 0; y < fm.H; y++ {
		for x := 0; x < fm.W; x++ {
			for c := 0; c < fm.C; c++ {
				out = append(out, fm.At(c, y, x))
			}
		}
	}
	return out, nil
}

// Close releases the backbone.
func (p *Patches) Close() error {
	return closeBackbone(p.backbone)
}
