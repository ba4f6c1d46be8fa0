package synth

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

// Method names a pseudo-normal construction.
type Method string

const (
	MethodBlur   Method = "heavy-blur"
	MethodInvert Method = "color-invert"
	MethodNoise  Method = "heavy-noise"
	MethodSolid  Method = "solid-color"
)

// PseudoNormal is a fabricated sample plus the method that produced it.
type PseudoNormal struct {
	Sample dataset.Sample
	Method Method
}

// Generator fabricates pseudo-normal samples. Results depend only on the
// seed and the source samples.
type Generator struct {
	size       int
	sources    int
	blurRadius int
	noiseSigma float64
	colors     []color.RGBA
	seed       int64
}

// Option configures a Generator.
type Option func(*Generator)

// WithSize sets the side of generated images.
func WithSize(n int) Option {
	return func(g *Generator) {
		g.size = n
	}
}

// WithSources caps how many source samples are transformed.
func WithSources(n int) Option {
	return func(g *Generator) {
		g.sources = n
	}
}

// WithBlurRadius sets the blur radius.
func WithBlurRadius(r int) Option {
	return func(g *Generator) {
		g.blurRadius = r
	}
}

// WithNoiseSigma sets the additive noise deviation.
func WithNoiseSigma(s float64) Option {
	return func(g *Generator) {
		g.noiseSigma = s
	}
}

// WithColors sets the solid fill colors.
func WithColors(colors ...color.RGBA) Option {
	return func(g *Generator) {
		g.colors = colors
	}
}

// WithSeed sets the noise seed.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.seed = seed
	}
}

// NewGenerator creates a generator with the defaults of the pseudo-normal
// evaluation: 64x64 images, five sources, blur radius 10, noise sigma 50 and
// three solid fills.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		size:       64,
		sources:    5,
		blurRadius: 10,
		noiseSigma: 50,
		colors: []color.RGBA{
			{R: 100, G: 150, B: 200, A: 255},
			{R: 200, G: 100, B: 100, A: 255},
			{R: 100, G: 200, B: 100, A: 255},
		},
		seed: 42,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate transforms up to the configured number of sources with blur,
// inversion and noise, then appends the solid fills. Sources without an
// image are skipped.
func (g *Generator) Generate(sources []dataset.Sample) []PseudoNormal {
	rng := rand.New(rand.NewSource(g.seed))
	var out []PseudoNormal

	used := 0
	for _, s := range sources {
		if used >= g.sources {
			break
		}
		if s.Image == nil {
			continue
		}
		used++
		small := Resize(s.Image, g.size, g.size)
		out = append(out,
			g.sample(s.ID, MethodBlur, HeavyBlur(small, g.blurRadius)),
			g.sample(s.ID, MethodInvert, Invert(small)),
			g.sample(s.ID, MethodNoise, HeavyNoise(small, g.noiseSigma, rng)),
		)
	}
	for i, c := range g.colors {
		out = append(out, g.sample(fmt.Sprintf("fill%d", i), MethodSolid, SolidColor(g.size, g.size, c)))
	}
	return out
}

func (g *Generator) sample(source string, m Method, img image.Image) PseudoNormal {
	return PseudoNormal{
		Sample: dataset.Sample{ID: fmt.Sprintf("pseudo-%s-%s", m, source), Image: img},
		Method: m,
	}
}

// Samples strips the method tags.
func Samples(pn []PseudoNormal) []dataset.Sample {
	out := make([]dataset.Sample, len(pn))
	for i, p := range pn {
		out[i] = p.Sample
	}
	return out
}
