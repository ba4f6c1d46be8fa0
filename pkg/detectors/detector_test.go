package detectors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindCenterDistance, KindMemoryBank, KindBoundary, KindReconstruction, KindIsolation, KindEnsemble} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("  Isolation ")
	require.NoError(t, err)
	assert.Equal(t, KindIsolation, got)

	_, err = ParseKind("lof")
	assert.Error(t, err)
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestNewResult(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		want      bool
	}{
		{"above", 2, 1, true},
		{"equal is normal", 1, 1, false},
		{"below", 0.5, 1, false},
		{"negative scores", -0.1, -0.2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResult(tt.score, tt.threshold)
			assert.Equal(t, tt.want, r.IsAnomaly)
			assert.Equal(t, tt.threshold, r.Threshold)
			assert.False(t, r.HasUncertainty)
		})
	}

	r := NewResult(1, 0).WithUncertainty(0.25)
	assert.True(t, r.HasUncertainty)
	assert.Equal(t, 0.25, r.Uncertainty)
}

func TestCheckReference(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		min     int
		wantDim int
		wantErr error
	}{
		{"empty", nil, 1, 0, ErrInsufficientData},
		{"below minimum", [][]float64{{1}}, 2, 0, ErrInsufficientData},
		{"zero length", [][]float64{{}}, 1, 0, ErrDimensionMismatch},
		{"ragged", [][]float64{{1, 2}, {3}}, 1, 0, ErrDimensionMismatch},
		{"valid", [][]float64{{1, 2}, {3, 4}}, 2, 2, nil},
		{"minimum clamped to one", [][]float64{{1, 2, 3}}, 0, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dim, err := CheckReference(tt.data, tt.min)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDim, dim)
		})
	}
}

func TestPercentile(t *testing.T) {
	data := []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5}

	assert.Equal(t, 0.0, Percentile(nil, 50))
	assert.Equal(t, 1.0, Percentile(data, 0))
	assert.Equal(t, 5.0, Percentile(data, 50))
	assert.Equal(t, 9.0, Percentile(data, 90))
	assert.Equal(t, 10.0, Percentile(data, 100))
	// input order is preserved
	assert.Equal(t, 10.0, data[0])
}

func TestCalibrationResolve(t *testing.T) {
	scores := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	threshold := 2.5

	tests := []struct {
		name string
		cfg  Config
		want float64
	}{
		{"explicit threshold wins", Config{Contamination: 0.1, Threshold: &threshold}, 2.5},
		{"contamination percentile", Config{Contamination: 0.1}, 9},
		{"fallback", Config{}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CalibrationFromConfig(tt.cfg)
			assert.Equal(t, tt.want, c.Resolve(scores, 42))
		})
	}

	assert.Equal(t, 7.0, Calibration{Contamination: 0.3}.Resolve(nil, 7))
	assert.Equal(t, 0.0, MaxOf(nil))
	assert.Equal(t, 10.0, MaxOf(scores))
}

type fakeState struct{ dim int }

func (s *fakeState) Kind() Kind         { return Kind(100) }
func (s *fakeState) Dim() int           { return s.dim }
func (s *fakeState) Threshold() float64 { return 1 }

type fakeScorer struct{}

func (fakeScorer) Kind() Kind { return Kind(100) }

func (fakeScorer) Calibrate(reference [][]float64) (State, error) {
	dim, err := CheckReference(reference, 1)
	if err != nil {
		return nil, err
	}
	return &fakeState{dim: dim}, nil
}

func (fakeScorer) Score(vector []float64, state State) (Result, error) {
	if err := CheckVector(vector, state, Kind(100)); err != nil {
		return Result{}, err
	}
	return NewResult(vector[0], state.Threshold()), nil
}

func TestRegistry(t *testing.T) {
	Register(Kind(100), func(Config) Scorer { return fakeScorer{} })

	s, err := New(Kind(100), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, Kind(100), s.Kind())
	assert.Contains(t, Kinds(), Kind(100))

	assert.Panics(t, func() {
		Register(Kind(100), func(Config) Scorer { return fakeScorer{} })
	})
	assert.Panics(t, func() { Register(Kind(101), nil) })

	_, err = New(Kind(102), Config{})
	assert.Error(t, err)
	_, err = NewByName("no-such-kind", Config{})
	assert.Error(t, err)
}

func TestModel(t *testing.T) {
	_, err := Model{}.Score([]float64{1})
	assert.ErrorIs(t, err, ErrNotCalibrated)

	m, err := Fit(fakeScorer{}, [][]float64{{0, 0}, {1, 1}})
	require.NoError(t, err)

	r, err := m.Score([]float64{3, 0})
	require.NoError(t, err)
	assert.True(t, r.IsAnomaly)

	_, err = m.Score([]float64{3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Scorer.Score([]float64{1}, &otherState{})
	assert.ErrorIs(t, err, ErrStateKind)

	_, err = Fit(fakeScorer{}, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

type otherState struct{}

func (otherState) Kind() Kind         { return KindIsolation }
func (otherState) Dim() int           { return 1 }
func (otherState) Threshold() float64 { return 0 }

func TestSaveStateRequiresState(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, SaveState(&buf, nil), ErrNotCalibrated)

	_, err := LoadState(bytes.NewReader([]byte("not gob")))
	assert.Error(t, err)
}
