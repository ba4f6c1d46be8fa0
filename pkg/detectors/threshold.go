package detectors

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Calibration carries the threshold policy shared by all kinds.
type Calibration struct {
	Contamination float64
	Threshold     float64
	HasThreshold  bool
}

// CalibrationFromConfig extracts the threshold policy from cfg.
func CalibrationFromConfig(cfg Config) Calibration {
	c := Calibration{Contamination: cfg.Contamination}
	if cfg.Threshold != nil {
		c.Threshold = *cfg.Threshold
		c.HasThreshold = true
	}
	return c
}

// Resolve picks the decision threshold. An explicit threshold wins; otherwise
// a positive contamination selects the matching upper percentile of the
// reference scores; otherwise fallback is used.
func (c Calibration) Resolve(referenceScores []float64, fallback float64) float64 {
	if c.HasThreshold {
		return c.Threshold
	}
	if c.Contamination > 0 && len(referenceScores) > 0 {
		return Percentile(referenceScores, 100*(1-c.Contamination))
	}
	return fallback
}

// Percentile calculates the p-th percentile of the data.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	q := p / 100
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// MaxOf returns the largest value in data, or 0 when empty.
func MaxOf(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
