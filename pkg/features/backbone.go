package features

import (
	"image"
	"math"
	"math/rand"
)

// FeatureMap is a channel-major activation volume.
type FeatureMap struct {
	C, H, W int
	Data    []float64
}

// At returns the activation of channel c at (x, y).
func (f *FeatureMap) At(c, y, x int) float64 {
	return f.Data[(c*f.H+y)*f.W+x]
}

func newFeatureMap(c, h, w int) *FeatureMap {
	return &FeatureMap{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// Backbone maps an image to a spatial feature map.
type Backbone interface {
	Forward(img image.Image) (*FeatureMap, error)
	// OutputShape returns channels, height and width of every output.
	OutputShape() (c, h, w int)
}

// ConvBackbone is a fixed convolutional stack: per block a 3x3 convolution
// with padding 1, LeakyReLU(0.1) and 2x2 max pooling. Weights are drawn once
// from a seeded generator, so the stack is deterministic for a given seed.
type ConvBackbone struct {
	resolution int
	layers     []convLayer
}

type convLayer struct {
	in, out int
	weights []float64 // out x in x 3 x 3
	bias    []float64
}

// NewConvBackbone creates a stack taking RGB input at resolution x resolution
// with one block per entry in channels.
func NewConvBackbone(resolution int, channels []int, seed int64) *ConvBackbone {
	rng := rand.New(rand.NewSource(seed))
	b := &ConvBackbone{resolution: resolution}
	in := 3
	for _, out := range channels {
		l := convLayer{
			in:      in,
			out:     out,
			weights: make([]float64, out*in*9),
			bias:    make([]float64, out),
		}
		std := math.Sqrt(2 / float64(in*9))
		for i := range l.weights {
			l.weights[i] = rng.NormFloat64() * std
		}
		b.layers = append(b.layers, l)
		in = out
	}
	return b
}

// OutputShape implements Backbone.
func (b *ConvBackbone) OutputShape() (int, int, int) {
	c, side := 3, b.resolution
	for _, l := range b.layers {
		c = l.out
		if side >= 2 {
			side /= 2
		}
	}
	return c, side, side
}

// Forward implements Backbone.
func (b *ConvBackbone) Forward(img image.Image) (*FeatureMap, error) {
	r := rasterize(img, b.resolution, b.resolution)
	x := newFeatureMap(3, r.h, r.w)
	for c := 0; c < 3; c++ {
		for i, v := range r.pix[c] {
			x.Data[c*r.h*r.w+i] = v / 255
		}
	}
	for _, l := range b.layers {
		x = maxPool(l.forward(x))
	}
	return x, nil
}

func (l convLayer) forward(x *FeatureMap) *FeatureMap {
	y := newFeatureMap(l.out, x.H, x.W)
	for o := 0; o < l.out; o++ {
		for row := 0; row < x.H; row++ {
			for col := 0; col < x.W; col++ {
				sum := l.bias[o]
				for i := 0; i < l.in; i++ {
					w := l.weights[(o*l.in+i)*9:]
					for ky := -1; ky <= 1; ky++ {
						yy := row + ky
						if yy < 0 || yy >= x.H {
							continue
						}
						for kx := -1; kx <= 1; kx++ {
							xx := col + kx
							if xx < 0 || xx >= x.W {
								continue
							}
							sum += w[(ky+1)*3+kx+1] * x.At(i, yy, xx)
						}
					}
				}
				if sum < 0 {
					sum *= 0.1
				}
				y.Data[(o*y.H+row)*y.W+col] = sum
			}
		}
	}
	return y
}

func maxPool(x *FeatureMap) *FeatureMap {
	if x.H < 2 || x.W < 2 {
		return x
	}
	h, w := x.H/2, x.W/2
	y := newFeatureMap(x.C, h, w)
	for c := 0; c < x.C; c++ {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				m := math.Inf(-1)
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						m = math.Max(m, x.At(c, 2*row+dy, 2*col+dx))
					}
				}
				y.Data[(c*h+row)*w+col] = m
			}
		}
	}
	return y
}
