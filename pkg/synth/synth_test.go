package synth

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

func TestSolidColor(t *testing.T) {
	img := SolidColor(4, 3, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, img.RGBAAt(x, y))
		}
	}
}

func TestInvert(t *testing.T) {
	img := SolidColor(2, 2, color.RGBA{R: 0, G: 100, B: 255, A: 255})
	inv := Invert(img)
	assert.Equal(t, color.RGBA{R: 255, G: 155, B: 0, A: 255}, inv.RGBAAt(1, 1))
	// source untouched
	assert.Equal(t, uint8(0), img.RGBAAt(1, 1).R)
}

func TestFlipHorizontal(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(0, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	got := FlipHorizontal(img)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, got.RGBAAt(2, 1))
	assert.Equal(t, color.RGBA{}, got.RGBAAt(0, 1))
	assert.Equal(t, img.Pix, FlipHorizontal(got).Pix)
}

func TestHeavyBlur(t *testing.T) {
	t.Run("flat image unchanged", func(t *testing.T) {
		img := SolidColor(16, 16, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		out := HeavyBlur(img, 10)
		assert.Equal(t, img.Pix, out.Pix)
	})

	t.Run("reduces contrast", func(t *testing.T) {
		img := Texture(32, 32, rand.New(rand.NewSource(1)))
		out := HeavyBlur(img, 10)
		assert.Less(t, spread(out), spread(img)/4)
	})

	t.Run("zero radius copies", func(t *testing.T) {
		img := Texture(8, 8, rand.New(rand.NewSource(1)))
		out := HeavyBlur(img, 0)
		assert.Equal(t, img.Pix, out.Pix)
	})
}

func TestHeavyNoise(t *testing.T) {
	img := SolidColor(32, 32, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	a := HeavyNoise(img, 50, rand.New(rand.NewSource(7)))
	b := HeavyNoise(img, 50, rand.New(rand.NewSource(7)))
	assert.Equal(t, a.Pix, b.Pix, "same seed should give the same noise")
	assert.Greater(t, spread(a), 50.0)
}

func TestResize(t *testing.T) {
	img := SolidColor(100, 50, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	out := Resize(img, 10, 10)
	assert.Equal(t, image.Rect(0, 0, 10, 10), out.Bounds())
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, out.RGBAAt(5, 5))
}

func TestGenerator(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var sources []dataset.Sample
	for i := 0; i < 8; i++ {
		sources = append(sources, dataset.FromImage(string(rune('a'+i)), Texture(40, 30, rng)))
	}
	sources = append([]dataset.Sample{{ID: "broken"}}, sources...)

	t.Run("defaults", func(t *testing.T) {
		out := NewGenerator().Generate(sources)
		// 5 sources x 3 transforms + 3 fills
		require.Len(t, out, 18)

		counts := map[Method]int{}
		for _, p := range out {
			counts[p.Method]++
			assert.Equal(t, image.Rect(0, 0, 64, 64), p.Sample.Image.Bounds())
			assert.NotContains(t, p.Sample.ID, "broken")
		}
		assert.Equal(t, map[Method]int{
			MethodBlur:   5,
			MethodInvert: 5,
			MethodNoise:  5,
			MethodSolid:  3,
		}, counts)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := NewGenerator(WithSeed(9)).Generate(sources)
		b := NewGenerator(WithSeed(9)).Generate(sources)
		require.Equal(t, len(a), len(b))
		for i := range a {
			assert.Equal(t, a[i].Sample.ID, b[i].Sample.ID)
			assert.Equal(t, a[i].Sample.Image.(*image.RGBA).Pix, b[i].Sample.Image.(*image.RGBA).Pix)
		}
	})

	t.Run("options", func(t *testing.T) {
		out := NewGenerator(WithSize(16), WithSources(1), WithColors()).Generate(sources)
		require.Len(t, out, 3)
		assert.Equal(t, image.Rect(0, 0, 16, 16), out[0].Sample.Image.Bounds())
		assert.Len(t, Samples(out), 3)
	})

	t.Run("no sources", func(t *testing.T) {
		out := NewGenerator().Generate(nil)
		assert.Len(t, out, 3)
	})
}

// spread returns max-min over the red channel.
func spread(img *image.RGBA) float64 {
	lo, hi := 255.0, 0.0
	for i := 0; i < len(img.Pix); i += 4 {
		v := float64(img.Pix[i])
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}
