package ensemble

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/detectors/mae"
	"github.com/hed1ad/fishguard/pkg/detectors/svdd"
)

func results(scores ...float64) []detectors.Result {
	out := make([]detectors.Result, len(scores))
	for i, s := range scores {
		out[i] = detectors.NewResult(s, 2)
	}
	return out
}

func TestCombineWeightedAverage(t *testing.T) {
	c := New()

	t.Run("single weight selects member", func(t *testing.T) {
		r, err := c.Combine(results(5, 1, 1), []float64{1, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, 5.0, r.Score)
		assert.Equal(t, 2.0, r.Threshold)
		assert.True(t, r.IsAnomaly)
		assert.Equal(t, 3, r.Members)
		assert.Equal(t, ModeWeightedAverage, r.Mode)
	})

	t.Run("weights renormalized", func(t *testing.T) {
		r, err := c.Combine(results(4, 0), []float64{3, 1})
		require.NoError(t, err)
		assert.InDelta(t, 3.0, r.Score, 1e-12)
	})

	tests := []struct {
		name    string
		weights []float64
		wantErr error
	}{
		{name: "all zero", weights: []float64{0, 0, 0}, wantErr: ErrDegenerateWeights},
		{name: "empty", weights: nil, wantErr: ErrDegenerateWeights},
		{name: "negative", weights: []float64{1, -1, 1}, wantErr: ErrDegenerateWeights},
		{name: "length mismatch", weights: []float64{1, 1}, wantErr: ErrWeightCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Combine(results(5, 1, 1), tt.weights)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestCombineNoResults(t *testing.T) {
	for _, m := range []Mode{ModeWeightedAverage, ModeMajorityVote, ModePlainAverage} {
		_, err := New(WithMode(m)).Combine(nil, nil)
		assert.ErrorIs(t, err, ErrNoResults, m.String())
	}
}

func TestCombinePlainAverage(t *testing.T) {
	r, err := New(WithMode(ModePlainAverage)).Combine(results(6, 0, 3), []float64{0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, r.Score, 1e-12)
	assert.InDelta(t, 2.0, r.Threshold, 1e-12)
	assert.True(t, r.IsAnomaly)
}

func TestCombineMajorityVote(t *testing.T) {
	// threshold 2: scores above are anomalous votes
	tests := []struct {
		name     string
		tie      TieBreak
		scores   []float64
		wantVote bool
		wantFrac float64
	}{
		{name: "majority anomalous", tie: TieNormal, scores: []float64{3, 3, 1}, wantVote: true, wantFrac: 2.0 / 3},
		{name: "majority normal", tie: TieAnomalous, scores: []float64{3, 1, 1}, wantVote: false, wantFrac: 1.0 / 3},
		{name: "tie defaults anomalous", tie: TieAnomalous, scores: []float64{3, 1}, wantVote: true, wantFrac: 0.5},
		{name: "tie normal", tie: TieNormal, scores: []float64{3, 1, 3, 1}, wantVote: false, wantFrac: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(WithMode(ModeMajorityVote), WithTieBreak(tt.tie))
			r, err := c.Combine(results(tt.scores...), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVote, r.IsAnomaly)
			assert.InDelta(t, tt.wantFrac, r.Score, 1e-12)
			assert.Equal(t, 0.5, r.Threshold)
		})
	}

	t.Run("default tie break", func(t *testing.T) {
		r, err := New(WithMode(ModeMajorityVote)).Combine(results(3, 1), nil)
		require.NoError(t, err)
		assert.True(t, r.IsAnomaly)
	})
}

func TestUncertainty(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{"two members", []float64{1, 3}, math.Sqrt2},
		{"three members", []float64{5, 1, 1}, 2.3094010767585},
		{"agreement", []float64{4, 4, 4}, 0},
		{"single member", []float64{7}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(WithMode(ModePlainAverage)).Combine(results(tt.scores...), nil)
			require.NoError(t, err)
			assert.True(t, r.HasUncertainty)
			assert.InDelta(t, tt.want, r.Uncertainty, 1e-9)
		})
	}

	t.Run("member estimates", func(t *testing.T) {
		rs := results(1, 3, 8)
		rs[0] = rs[0].WithUncertainty(0.2)
		rs[2] = rs[2].WithUncertainty(0.4)
		r, err := New(WithMode(ModePlainAverage)).Combine(rs, nil)
		require.NoError(t, err)
		assert.InDelta(t, 0.3, r.Uncertainty, 1e-12)
	})
}

func TestUpdateWeights(t *testing.T) {
	t.Run("proportional", func(t *testing.T) {
		c := New(WithWeights(1, 1, 1))
		w, err := c.UpdateWeights([]float64{2, 6, 2})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.2, 0.6, 0.2}, w, 1e-12)
		assert.InDeltaSlice(t, w, c.Weights(), 1e-12)

		// returned slice is a copy
		w[0] = 99
		assert.InDelta(t, 0.2, c.Weights()[0], 1e-12)
	})

	t.Run("failure keeps previous weights", func(t *testing.T) {
		c := New(WithWeights(1, 3))
		_, err := c.UpdateWeights([]float64{0, 0})
		assert.ErrorIs(t, err, ErrDegenerateWeights)
		_, err = c.UpdateWeights(nil)
		assert.ErrorIs(t, err, ErrDegenerateWeights)
		assert.Equal(t, []float64{1, 3}, c.Weights())
	})

	t.Run("stored weights", func(t *testing.T) {
		c := New()
		_, err := c.UpdateWeights([]float64{0, 1})
		require.NoError(t, err)
		r, err := c.CombineStored(results(10, 4))
		require.NoError(t, err)
		assert.Equal(t, 4.0, r.Score)
	})
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Majority-Vote ")
	require.NoError(t, err)
	assert.Equal(t, ModeMajorityVote, m)

	_, err = ParseMode("median")
	assert.Error(t, err)
}

func TestEnsemble(t *testing.T) {
	ref := [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	near, err := detectors.Fit(svdd.New(), ref)
	require.NoError(t, err)
	strict, err := detectors.Fit(svdd.New(svdd.WithThreshold(0)), ref)
	require.NoError(t, err)

	e, err := NewEnsemble([]detectors.Model{near, strict}, New(WithMode(ModeMajorityVote), WithTieBreak(TieNormal)))
	require.NoError(t, err)
	assert.Equal(t, 2, e.Members())
	assert.Equal(t, []float64{0.5, 0.5}, e.Combiner().Weights())

	// inside the reference radius only the strict member fires
	r, err := e.Score([]float64{0.5, 0.6})
	require.NoError(t, err)
	assert.False(t, r.IsAnomaly)

	r, err = e.Score([]float64{10, 10})
	require.NoError(t, err)
	assert.True(t, r.IsAnomaly)
	assert.Equal(t, 1.0, r.Score)

	_, err = e.Score([]float64{1})
	assert.ErrorIs(t, err, detectors.ErrDimensionMismatch)

	t.Run("invalid", func(t *testing.T) {
		_, err := NewEnsemble(nil, nil)
		assert.ErrorIs(t, err, ErrNoResults)

		_, err = NewEnsemble([]detectors.Model{near}, New(WithWeights(1, 1)))
		assert.ErrorIs(t, err, ErrWeightCount)
	})

	t.Run("uncalibrated member", func(t *testing.T) {
		e, err := NewEnsemble([]detectors.Model{{}}, nil)
		require.NoError(t, err)
		_, err = e.Score([]float64{0, 0})
		assert.ErrorIs(t, err, detectors.ErrNotCalibrated)
	})
}

func BenchmarkCombine(b *testing.B) {
	c := New()
	rs := results(1, 2, 3, 4, 5)
	w := []float64{1, 2, 3, 4, 5}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Combine(rs, w)
	}
}

func TestScorer(t *testing.T) {
	ref := [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0.5, 0.5}}

	s := NewScorer(New(WithWeights(1, 3)),
		svdd.New(svdd.WithThreshold(1)),
		svdd.New(svdd.WithThreshold(5)),
	)
	assert.Equal(t, detectors.KindEnsemble, s.Kind())

	state, err := s.Calibrate(ref)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Dim())
	// 0.25*1 + 0.75*5
	assert.InDelta(t, 4.0, state.Threshold(), 1e-12)

	r, err := s.Score([]float64{0.5, 0.5}, state)
	require.NoError(t, err)
	assert.False(t, r.IsAnomaly)

	r, err = s.Score([]float64{3, 3}, state)
	require.NoError(t, err)
	// squared distance 12.5 from both centers
	assert.InDelta(t, 12.5, r.Score, 1e-12)
	assert.True(t, r.IsAnomaly)
	assert.True(t, r.HasUncertainty)

	_, err = s.Score([]float64{1, 2, 3}, state)
	assert.ErrorIs(t, err, detectors.ErrDimensionMismatch)

	t.Run("member failure", func(t *testing.T) {
		_, err := NewScorer(nil, svdd.New()).Calibrate(nil)
		assert.ErrorIs(t, err, detectors.ErrInsufficientData)
	})

	t.Run("no members", func(t *testing.T) {
		_, err := NewScorer(nil).Calibrate(ref)
		assert.Error(t, err)
	})

	t.Run("weight count", func(t *testing.T) {
		_, err := NewScorer(New(WithWeights(1)), svdd.New(), svdd.New()).Calibrate(ref)
		assert.ErrorIs(t, err, ErrWeightCount)
	})

	t.Run("wrong state", func(t *testing.T) {
		other, err := svdd.New().Calibrate(ref)
		require.NoError(t, err)
		_, err = s.Score([]float64{0, 0}, other)
		assert.ErrorIs(t, err, detectors.ErrStateKind)
	})
}

func TestMemberUncertainty(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ref := make([][]float64, 60)
	for i := range ref {
		ref[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}

	var models []detectors.Model
	for _, s := range []detectors.Scorer{
		mae.New(mae.WithLatent(4), mae.WithMaskRatio(0.5), mae.WithSeed(1)),
		svdd.New(),
		mae.New(mae.WithLatent(4), mae.WithMaskRatio(0.5), mae.WithSeed(2)),
	} {
		m, err := detectors.Fit(s, ref)
		require.NoError(t, err)
		models = append(models, m)
	}

	e, err := NewEnsemble(models, New(WithMode(ModePlainAverage)))
	require.NoError(t, err)

	query := []float64{4, -4, 4, -4}
	var reported []float64
	for _, m := range models {
		r, err := m.Score(query)
		require.NoError(t, err)
		if r.HasUncertainty {
			reported = append(reported, r.Uncertainty)
		}
	}
	require.Len(t, reported, 2, "reconstruction members report uncertainty")

	r, err := e.Score(query)
	require.NoError(t, err)
	assert.True(t, r.HasUncertainty)
	assert.InDelta(t, (reported[0]+reported[1])/2, r.Uncertainty, 1e-12)
}
