package features

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/fishguard/pkg/dataset"
)

func smallContrastive(seed int64) *Contrastive {
	return NewContrastive(
		WithContrastiveBackbone(NewConvBackbone(16, []int{4, 8}, seed)),
		WithProjection(6),
		WithEpochs(20),
		WithContrastiveSeed(seed),
	)
}

func texturedSet(n int) []dataset.Sample {
	out := make([]dataset.Sample, n)
	for i := range out {
		out[i] = textured("s", int64(i+1))
	}
	return out
}

func TestContrastiveFit(t *testing.T) {
	c := smallContrastive(3)
	require.Equal(t, 6, c.Dim())
	require.Implements(t, (*Trainable)(nil), c)

	samples := append(texturedSet(6), dataset.Sample{ID: "broken"})
	require.NoError(t, c.Fit(samples))

	initial, final := c.Losses()
	assert.Greater(t, initial, 0.0)
	assert.Less(t, final, initial)

	v, err := c.Extract(samples[0])
	require.NoError(t, err)
	require.Len(t, v, 6)
	assert.InDelta(t, 1.0, floats.Norm(v, 2), 1e-9)

	_, err = c.Extract(dataset.Sample{ID: "broken"})
	assert.ErrorIs(t, err, ErrUnreadableSample)
}

func TestContrastiveFitNeedsPairs(t *testing.T) {
	c := smallContrastive(1)
	err := c.Fit([]dataset.Sample{textured("a", 1), {ID: "broken"}})
	assert.Error(t, err)
}

func TestContrastiveDeterministic(t *testing.T) {
	samples := texturedSet(5)
	a, b := smallContrastive(7), smallContrastive(7)
	require.NoError(t, a.Fit(samples))
	require.NoError(t, b.Fit(samples))

	for _, s := range samples {
		va, err := a.Extract(s)
		require.NoError(t, err)
		vb, err := b.Extract(s)
		require.NoError(t, err)
		assert.Equal(t, va, vb)
	}
}

func TestContrastiveHead(t *testing.T) {
	samples := texturedSet(4)
	trained := smallContrastive(2)
	require.NoError(t, trained.Fit(samples))

	var buf bytes.Buffer
	require.NoError(t, trained.SaveHead(&buf))

	fresh := smallContrastive(2)
	require.NoError(t, fresh.LoadHead(bytes.NewReader(buf.Bytes())))
	want, err := trained.Extract(samples[1])
	require.NoError(t, err)
	got, err := fresh.Extract(samples[1])
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other := NewContrastive(WithContrastiveBackbone(NewConvBackbone(16, []int{4, 8}, 2)), WithProjection(3))
	assert.Error(t, other.LoadHead(bytes.NewReader(buf.Bytes())))
}

func TestNTXentGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	h := randomMatrix(rng, 6, 5)
	w := randomMatrix(rng, 3, 5)

	_, grad := ntXent(w, h, 0.5)

	const eps = 1e-6
	rows, cols := w.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			plus, minus := mat.DenseCopyOf(w), mat.DenseCopyOf(w)
			plus.Set(i, j, w.At(i, j)+eps)
			minus.Set(i, j, w.At(i, j)-eps)
			lp, _ := ntXent(plus, h, 0.5)
			lm, _ := ntXent(minus, h, 0.5)
			assert.InDelta(t, (lp-lm)/(2*eps), grad.At(i, j), 1e-6, "w[%d][%d]", i, j)
		}
	}
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 4}
	assert.Equal(t, 5.0, normalize(v))
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, v, 1e-12)

	zero := []float64{0, 0}
	assert.Equal(t, 1.0, normalize(zero))
	assert.Equal(t, []float64{0, 0}, zero)
	assert.False(t, math.IsNaN(zero[0]))
}

func BenchmarkContrastiveFit(b *testing.B) {
	samples := texturedSet(8)
	for i := 0; i < b.N; i++ {
		_ = smallContrastive(1).Fit(samples)
	}
}
