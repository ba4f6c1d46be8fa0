package evaluation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/detectors"
	_ "github.com/hed1ad/fishguard/pkg/detectors/all"
	"github.com/hed1ad/fishguard/pkg/detectors/svdd"
	"github.com/hed1ad/fishguard/pkg/features"
	"github.com/hed1ad/fishguard/pkg/synth"
)

func textured(prefix string, n int, seed int64) []dataset.Sample {
	rng := rand.New(rand.NewSource(seed))
	out := make([]dataset.Sample, n)
	for i := range out {
		out[i] = dataset.FromImage(fmt.Sprintf("%s%02d", prefix, i), synth.Texture(64, 64, rng))
	}
	return out
}

func solids(n int) []dataset.Sample {
	out := make([]dataset.Sample, n)
	for i := range out {
		c := color.RGBA{R: uint8(20 * i), G: uint8(255 - 15*i), B: uint8(60 + 10*i), A: 255}
		out[i] = dataset.FromImage(fmt.Sprintf("solid%02d", i), synth.SolidColor(64, 64, c))
	}
	return out
}

func grays(prefix string, n int, seed int64) []dataset.Sample {
	rng := rand.New(rand.NewSource(seed))
	out := make([]dataset.Sample, n)
	for i := range out {
		out[i] = dataset.FromImage(fmt.Sprintf("%s%02d", prefix, i), synth.NoisyGray(64, 64, 128, 5, rng))
	}
	return out
}

// ramps are horizontal gray ramps centered on 128 with contrast spread
// evenly over [lo, hi].
func ramps(prefix string, n int, lo, hi float64) []dataset.Sample {
	out := make([]dataset.Sample, n)
	for i := range out {
		c := lo + (hi-lo)*float64(i)/float64(n-1)
		img := image.NewRGBA(image.Rect(0, 0, 64, 64))
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				v := uint8(math.Round(128 + c*(2*float64(x)/63-1)))
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
			}
		}
		out[i] = dataset.FromImage(fmt.Sprintf("%s%02d", prefix, i), img)
	}
	return out
}

func flatColors(n int) []dataset.Sample {
	out := make([]dataset.Sample, n)
	for i := range out {
		c := color.RGBA{R: uint8(8 * i), G: uint8(255 - 8*i), B: uint8(40 + 6*i), A: 255}
		out[i] = dataset.FromImage(fmt.Sprintf("flat%02d", i), synth.SolidColor(64, 64, c))
	}
	return out
}

func TestRunSeparableEveryKind(t *testing.T) {
	reference := ramps("ref", 40, 20, 120)
	diseased := ramps("dis", 30, 50, 90)
	normal := flatColors(30)

	kinds := detectors.Kinds()
	require.Len(t, kinds, 5)

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			scorer, err := detectors.New(kind, detectors.Config{RandomSeed: 42})
			require.NoError(t, err)

			summary, err := New(features.NewHandcrafted(), scorer, WithWorkers(4)).
				Run(context.Background(), reference, diseased, normal)
			require.NoError(t, err)

			require.True(t, summary.HasMetrics)
			assert.Greater(t, summary.Sensitivity, 0.95, summary.String())
			assert.Greater(t, summary.Specificity, 0.95, summary.String())
		})
	}
}

func TestRunSeparable(t *testing.T) {
	h := New(features.NewHandcrafted(), svdd.New(svdd.WithThreshold(1000)), WithWorkers(4))

	summary, err := h.Run(context.Background(), textured("ref", 20, 1), textured("dis", 15, 2), solids(12))
	require.NoError(t, err)

	assert.Equal(t, "center-distance", summary.Scorer)
	assert.Equal(t, "handcrafted", summary.Extractor)
	assert.Equal(t, ReferenceDiseased, summary.Reference)
	assert.Equal(t, 20, summary.ReferenceCount)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1000.0, summary.Threshold)

	require.True(t, summary.HasMetrics)
	assert.Greater(t, summary.Sensitivity, 0.95)
	assert.Greater(t, summary.Specificity, 0.95)
	assert.Greater(t, summary.Accuracy, 0.95)

	assert.Equal(t, 15, summary.Diseased.Count)
	assert.Equal(t, 12, summary.Normal.Count)
	assert.Less(t, summary.Diseased.MeanScore, summary.Normal.MeanScore)

	c := summary.Confusion
	assert.Equal(t, 27, c.TruePositive+c.FalseNegative+c.FalsePositive+c.TrueNegative)

	// results keep input order
	for i, s := range summary.Diseased.Samples {
		assert.Equal(t, fmt.Sprintf("dis%02d", i), s.ID)
	}
}

func TestRunTrainsExtractor(t *testing.T) {
	ext := features.NewContrastive(
		features.WithContrastiveBackbone(features.NewConvBackbone(16, []int{4, 8}, 1)),
		features.WithProjection(6),
		features.WithEpochs(10),
	)
	h := New(ext, svdd.New(svdd.WithThreshold(1000)))

	summary, err := h.Run(context.Background(), textured("ref", 6, 1), textured("dis", 3, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, "contrastive", summary.Extractor)
	assert.Equal(t, 3, summary.Diseased.Count)

	initial, final := ext.Losses()
	assert.Less(t, final, initial)

	_, err = New(ext, svdd.New()).Run(context.Background(), textured("ref", 1, 1), nil, nil)
	assert.Error(t, err)
}

func TestRunReferenceNormal(t *testing.T) {
	h := New(features.NewHandcrafted(), svdd.New(svdd.WithThreshold(100)), WithReferenceClass(ReferenceNormal))

	summary, err := h.Run(context.Background(), grays("ref", 10, 1), textured("dis", 8, 2), grays("norm", 6, 3))
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Diseased.Anomalous)
	assert.Equal(t, 8, summary.Diseased.PredictedDisease)
	assert.Equal(t, 1.0, summary.Diseased.AnomalousFraction)
	assert.Equal(t, 0, summary.Normal.Anomalous)
	assert.Equal(t, 6, summary.Normal.NotAnomalous)
	assert.Equal(t, 1.0, summary.Sensitivity)
	assert.Equal(t, 1.0, summary.Specificity)
	assert.Equal(t, Confusion{TruePositive: 8, TrueNegative: 6}, summary.Confusion)
}

func TestRunSkipsUnreadable(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := New(features.NewHandcrafted(), svdd.New(svdd.WithThreshold(1000)), WithLogger(zap.New(core)))

	reference := append(textured("ref", 5, 1), dataset.Sample{ID: "broken-ref"})
	diseased := append([]dataset.Sample{{ID: "broken-dis"}}, textured("dis", 3, 2)...)

	summary, err := h.Run(context.Background(), reference, diseased, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 5, summary.ReferenceCount)
	assert.Equal(t, 3, summary.Diseased.Count)
	assert.Equal(t, "dis00", summary.Diseased.Samples[0].ID)
	assert.False(t, summary.HasMetrics)
	assert.Equal(t, 2, logs.FilterMessage("skipping sample").Len())
}

func TestRunCalibrationFailure(t *testing.T) {
	h := New(features.NewHandcrafted(), svdd.New())

	_, err := h.Run(context.Background(), []dataset.Sample{{ID: "a"}, {ID: "b"}}, textured("dis", 2, 1), nil)
	assert.ErrorIs(t, err, detectors.ErrInsufficientData)

	_, err = h.Run(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, detectors.ErrInsufficientData)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := New(features.NewHandcrafted(), svdd.New())
	_, err := h.Run(ctx, textured("ref", 4, 1), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithPseudoNormals(t *testing.T) {
	reference := textured("ref", 12, 1)
	pseudo := synth.NewGenerator().Generate(textured("src", 5, 3))

	h := New(features.NewHandcrafted(), svdd.New(svdd.WithThreshold(1000)), WithWorkers(2))
	summary, err := h.Run(context.Background(), reference, textured("dis", 6, 2), synth.Samples(pseudo))
	require.NoError(t, err)

	assert.Equal(t, len(pseudo), summary.Normal.Count)
	assert.True(t, summary.HasMetrics)
	assert.Equal(t, 1.0, summary.Sensitivity)
	assert.Contains(t, summary.String(), "sensitivity=")
}

func TestReferenceClass(t *testing.T) {
	tests := []struct {
		in      string
		want    ReferenceClass
		wantErr bool
	}{
		{in: "", want: ReferenceDiseased},
		{in: "diseased", want: ReferenceDiseased},
		{in: " Normal ", want: ReferenceNormal},
		{in: "healthy", want: ReferenceNormal},
		{in: "sick", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReferenceClass(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, ReferenceDiseased.PredictsDisease(false))
	assert.False(t, ReferenceDiseased.PredictsDisease(true))
	assert.True(t, ReferenceNormal.PredictsDisease(true))

	var c ReferenceClass
	require.NoError(t, c.UnmarshalText([]byte("normal")))
	assert.Equal(t, ReferenceNormal, c)
	text, err := c.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "normal", string(text))
}
