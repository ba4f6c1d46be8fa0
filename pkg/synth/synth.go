// Package synth builds synthetic images: flat fills, noisy textures and the
// distribution-shifting transforms used to fabricate pseudo-normal samples
// when no genuine healthy population is available.
package synth

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
)

// SolidColor returns a w x h image filled with c.
func SolidColor(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[4*i] = c.R
		img.Pix[4*i+1] = c.G
		img.Pix[4*i+2] = c.B
		img.Pix[4*i+3] = 255
	}
	return img
}

// NoisyGray returns a gray image at level with uniform per-pixel noise of
// the given amplitude.
func NoisyGray(w, h int, level uint8, amplitude float64, rng *rand.Rand) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		v := clamp(float64(level) + (rng.Float64()*2-1)*amplitude)
		img.Pix[4*i] = v
		img.Pix[4*i+1] = v
		img.Pix[4*i+2] = v
		img.Pix[4*i+3] = 255
	}
	return img
}

// Texture returns an image with independent uniform random channel values.
func Texture(w, h int, rng *rand.Rand) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[4*i] = uint8(rng.Intn(256))
		img.Pix[4*i+1] = uint8(rng.Intn(256))
		img.Pix[4*i+2] = uint8(rng.Intn(256))
		img.Pix[4*i+3] = 255
	}
	return img
}

// Resize scales img to w x h with bilinear interpolation.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Invert returns the color negative of img.
func Invert(img image.Image) *image.RGBA {
	dst := toRGBA(img)
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 255 - dst.Pix[i]
		dst.Pix[i+1] = 255 - dst.Pix[i+1]
		dst.Pix[i+2] = 255 - dst.Pix[i+2]
	}
	return dst
}

// FlipHorizontal returns the mirror image of img.
func FlipHorizontal(img image.Image) *image.RGBA {
	src := toRGBA(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			copy(dst.Pix[dst.PixOffset(w-1-x, y):][:4], src.Pix[src.PixOffset(x, y):][:4])
		}
	}
	return dst
}

// HeavyNoise adds zero-mean Gaussian noise with standard deviation sigma.
func HeavyNoise(img image.Image, sigma float64, rng *rand.Rand) *image.RGBA {
	dst := toRGBA(img)
	for i := 0; i < len(dst.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = clamp(float64(dst.Pix[i+c]) + rng.NormFloat64()*sigma)
		}
	}
	return dst
}

// HeavyBlur approximates a Gaussian blur of the given radius with three
// separable box-blur passes.
func HeavyBlur(img image.Image, radius int) *image.RGBA {
	dst := toRGBA(img)
	if radius < 1 {
		return dst
	}
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()

	// Box width for three passes matching a Gaussian with sigma = radius/2.
	sigma := float64(radius) / 2
	box := int(math.Round(math.Sqrt(12*sigma*sigma/3+1) / 2))
	if box < 1 {
		box = 1
	}

	planes := make([][]float64, 3)
	for c := range planes {
		planes[c] = make([]float64, w*h)
		for i := range planes[c] {
			planes[c][i] = float64(dst.Pix[4*i+c])
		}
	}
	tmp := make([]float64, w*h)
	for _, p := range planes {
		for pass := 0; pass < 3; pass++ {
			boxH(p, tmp, w, h, box)
			boxV(tmp, p, w, h, box)
		}
	}
	for c, p := range planes {
		for i, v := range p {
			dst.Pix[4*i+c] = clamp(v)
		}
	}
	return dst
}

func boxH(src, dst []float64, w, h, r int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -r; k <= r; k++ {
				sum += src[y*w+clampIndex(x+k, w)]
			}
			dst[y*w+x] = sum / float64(2*r+1)
		}
	}
}

func boxV(src, dst []float64, w, h, r int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -r; k <= r; k++ {
				sum += src[clampIndex(y+k, h)*w+x]
			}
			dst[y*w+x] = sum / float64(2*r+1)
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.Round(v))
}
