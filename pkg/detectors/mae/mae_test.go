package mae

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

func TestVisibleSet(t *testing.T) {
	tests := []struct {
		name   string
		latent int
		ratio  float64
		want   int
	}{
		{"default ratio", 16, 0.75, 4},
		{"no masking", 5, 0, 5},
		{"one always visible", 4, 0.99, 1},
		{"single latent", 1, 0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := visibleSet(tt.latent, tt.ratio, 42)
			assert.Len(t, got, tt.want)
			assert.True(t, sort.IntsAreSorted(got))
			assert.Equal(t, got, visibleSet(tt.latent, tt.ratio, 42))
		})
	}
}

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		data    [][]float64
		wantErr error
		errText string
	}{
		{name: "empty", wantErr: detectors.ErrInsufficientData},
		{name: "single", data: [][]float64{{1, 2}}, wantErr: detectors.ErrInsufficientData},
		{name: "ragged", data: [][]float64{{1, 2}, {1}}, wantErr: detectors.ErrDimensionMismatch},
		{name: "mask ratio", opts: []Option{WithMaskRatio(1)}, data: lineData(10, 1), errText: "mask ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...).Calibrate(tt.data)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errText != "" {
				assert.Contains(t, err.Error(), tt.errText)
			}
		})
	}
}

func TestReconstructionError(t *testing.T) {
	s := New(WithLatent(1), WithMaskRatio(0))
	state, err := s.Calibrate(lineData(200, 2))
	require.NoError(t, err)

	st := state.(*State)
	assert.Equal(t, 4, st.Dim())
	assert.Equal(t, []int{0}, st.Visible)

	for _, v := range lineData(20, 3) {
		r, err := s.Score(v, state)
		require.NoError(t, err)
		assert.Less(t, r.Score, 0.1)
	}

	r, err := s.Score([]float64{5, -5, 5, -5}, state)
	require.NoError(t, err)
	assert.True(t, r.IsAnomaly)
	assert.Greater(t, r.Score, 5.0)
}

func TestUncertainty(t *testing.T) {
	data := lineData(100, 8)
	outlier := []float64{5, -5, 5, -5}

	tests := []struct {
		name    string
		opts    []Option
		has     bool
		nonZero bool
	}{
		{"single mask", []Option{WithLatent(4), WithMaskDraws(1)}, false, false},
		{"unmasked draws agree", []Option{WithLatent(4), WithMaskRatio(0)}, true, false},
		{"masked draws disagree", []Option{WithLatent(4), WithMaskRatio(0.5)}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.opts...)
			state, err := s.Calibrate(data)
			require.NoError(t, err)

			r, err := s.Score(outlier, state)
			require.NoError(t, err)
			assert.Equal(t, tt.has, r.HasUncertainty)
			if tt.nonZero {
				assert.Greater(t, r.Uncertainty, 0.0)
			} else {
				assert.InDelta(t, 0.0, r.Uncertainty, 1e-12)
			}

			again, err := s.Score(outlier, state)
			require.NoError(t, err)
			assert.Equal(t, r, again)
		})
	}
}

func TestThresholdPolicy(t *testing.T) {
	data := lineData(100, 4)

	state, err := New(WithLatent(1), WithMaskRatio(0)).Calibrate(data)
	require.NoError(t, err)
	maxRef := state.Threshold()

	state, err = New(WithLatent(1), WithMaskRatio(0), WithContamination(0.2)).Calibrate(data)
	require.NoError(t, err)
	assert.Less(t, state.Threshold(), maxRef)

	state, err = New(WithThreshold(2)).Calibrate(data)
	require.NoError(t, err)
	assert.Equal(t, 2.0, state.Threshold())
}

func TestScoreErrors(t *testing.T) {
	s := New()
	state, err := s.Calibrate(lineData(10, 5))
	require.NoError(t, err)

	_, err = s.Score([]float64{1, 2}, state)
	assert.ErrorIs(t, err, detectors.ErrDimensionMismatch)

	_, err = s.Score(make([]float64, 4), nil)
	assert.ErrorIs(t, err, detectors.ErrNotCalibrated)
}

func TestSaveLoad(t *testing.T) {
	s := New(WithLatent(2), WithSeed(3))
	state, err := s.Calibrate(lineData(50, 6))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, detectors.SaveState(&buf, state))
	loaded, err := detectors.LoadState(&buf)
	require.NoError(t, err)

	for _, v := range lineData(10, 7) {
		want, err := s.Score(v, state)
		require.NoError(t, err)
		got, err := s.Score(v, loaded)
		require.NoError(t, err)
		assert.InDelta(t, want.Score, got.Score, 1e-12)
		assert.InDelta(t, want.Uncertainty, got.Uncertainty, 1e-12)
	}
}

func TestFromConfig(t *testing.T) {
	s, err := detectors.NewByName("reconstruction", detectors.Config{
		Components: 8,
		MaskRatio:  0.5,
		MaskDraws:  3,
		RandomSeed: 5,
	})
	require.NoError(t, err)

	m := s.(*Scorer)
	assert.Equal(t, 8, m.latent)
	assert.Equal(t, 0.5, m.maskRatio)
	assert.Equal(t, 3, m.draws)
	assert.Equal(t, int64(5), m.seed)
}

// lineData samples points along (1, 1, 1, 1) with a little isotropic noise.
func lineData(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		t := rng.NormFloat64()
		data[i] = make([]float64, 4)
		for j := range data[i] {
			data[i][j] = t + 0.05*rng.NormFloat64()
		}
	}
	return data
}
