package evaluation

import (
	"fmt"
	"strings"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

// ReferenceClass names the population a scorer was calibrated on, which
// fixes how an anomaly decision maps to a disease prediction.
type ReferenceClass int

const (
	// ReferenceDiseased: the reference set is disease imagery, so a sample
	// that is not anomalous is predicted diseased.
	ReferenceDiseased ReferenceClass = iota
	// ReferenceNormal: the reference set is healthy fish, so an anomalous
	// sample is predicted diseased.
	ReferenceNormal
)

func (c ReferenceClass) String() string {
	switch c {
	case ReferenceDiseased:
		return "diseased"
	case ReferenceNormal:
		return "normal"
	default:
		return fmt.Sprintf("reference(%d)", int(c))
	}
}

// ParseReferenceClass accepts "diseased" or "normal". Empty selects diseased.
func ParseReferenceClass(s string) (ReferenceClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "diseased", "disease":
		return ReferenceDiseased, nil
	case "normal", "healthy":
		return ReferenceNormal, nil
	default:
		return 0, fmt.Errorf("unknown reference class %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c ReferenceClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ReferenceClass) UnmarshalText(text []byte) error {
	v, err := ParseReferenceClass(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// PredictsDisease maps a scorer decision to a disease prediction.
func (c ReferenceClass) PredictsDisease(isAnomaly bool) bool {
	if c == ReferenceNormal {
		return isAnomaly
	}
	return !isAnomaly
}

// SampleScore is the outcome for one held-out sample.
type SampleScore struct {
	ID      string           `json:"id"`
	Result  detectors.Result `json:"result"`
	Disease bool             `json:"predicted_disease"`
}

// Population summarizes one scored population.
type Population struct {
	Count             int     `json:"count"`
	Anomalous         int     `json:"anomalous"`
	NotAnomalous      int     `json:"not_anomalous"`
	AnomalousFraction float64 `json:"anomalous_fraction"`
	// PredictedDisease counts samples mapped to the disease class.
	PredictedDisease int           `json:"predicted_disease"`
	MeanScore        float64       `json:"mean_score"`
	Samples          []SampleScore `json:"-"`
}

// Confusion is a 2x2 matrix with disease as the positive class.
type Confusion struct {
	TruePositive  int `json:"tp"`
	FalseNegative int `json:"fn"`
	FalsePositive int `json:"fp"`
	TrueNegative  int `json:"tn"`
}

// Summary is the outcome of one harness run.
type Summary struct {
	Scorer         string         `json:"scorer"`
	Extractor      string         `json:"extractor"`
	Reference      ReferenceClass `json:"reference_class"`
	ReferenceCount int            `json:"reference_count"`
	Threshold      float64        `json:"threshold"`
	// Skipped counts samples whose features could not be extracted or scored.
	Skipped  int        `json:"skipped"`
	Diseased Population `json:"diseased"`
	Normal   Population `json:"normal"`

	// HasMetrics is set when both held-out populations are non-empty.
	HasMetrics  bool      `json:"has_metrics"`
	Sensitivity float64   `json:"sensitivity"`
	Specificity float64   `json:"specificity"`
	Accuracy    float64   `json:"accuracy"`
	Confusion   Confusion `json:"confusion"`
}

func summarize(scores []SampleScore) Population {
	p := Population{Count: len(scores), Samples: scores}
	if len(scores) == 0 {
		return p
	}
	var sum float64
	for _, s := range scores {
		sum += s.Result.Score
		if s.Result.IsAnomaly {
			p.Anomalous++
		}
		if s.Disease {
			p.PredictedDisease++
		}
	}
	p.NotAnomalous = p.Count - p.Anomalous
	p.AnomalousFraction = float64(p.Anomalous) / float64(p.Count)
	p.MeanScore = sum / float64(p.Count)
	return p
}

func (s *Summary) computeMetrics() {
	if s.Diseased.Count == 0 || s.Normal.Count == 0 {
		return
	}
	s.HasMetrics = true
	s.Confusion = Confusion{
		TruePositive:  s.Diseased.PredictedDisease,
		FalseNegative: s.Diseased.Count - s.Diseased.PredictedDisease,
		FalsePositive: s.Normal.PredictedDisease,
		TrueNegative:  s.Normal.Count - s.Normal.PredictedDisease,
	}
	c := s.Confusion
	s.Sensitivity = float64(c.TruePositive) / float64(s.Diseased.Count)
	s.Specificity = float64(c.TrueNegative) / float64(s.Normal.Count)
	s.Accuracy = float64(c.TruePositive+c.TrueNegative) / float64(s.Diseased.Count+s.Normal.Count)
}

// String renders a human-readable report.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scorer=%s extractor=%s reference=%s (n=%d) threshold=%.6g skipped=%d\n",
		s.Scorer, s.Extractor, s.Reference, s.ReferenceCount, s.Threshold, s.Skipped)
	writePopulation(&b, "diseased", s.Diseased)
	writePopulation(&b, "normal", s.Normal)
	if s.HasMetrics {
		fmt.Fprintf(&b, "sensitivity=%.2f%% specificity=%.2f%% accuracy=%.2f%%\n",
			100*s.Sensitivity, 100*s.Specificity, 100*s.Accuracy)
		c := s.Confusion
		fmt.Fprintf(&b, "confusion: tp=%d fn=%d fp=%d tn=%d\n", c.TruePositive, c.FalseNegative, c.FalsePositive, c.TrueNegative)
	}
	return b.String()
}

func writePopulation(b *strings.Builder, name string, p Population) {
	if p.Count == 0 {
		fmt.Fprintf(b, "%s: none\n", name)
		return
	}
	fmt.Fprintf(b, "%s: n=%d anomalous=%d (%.1f%%) not-anomalous=%d (%.1f%%) predicted-disease=%d mean-score=%.6g\n",
		name, p.Count, p.Anomalous, 100*p.AnomalousFraction,
		p.NotAnomalous, 100*(1-p.AnomalousFraction), p.PredictedDisease, p.MeanScore)
}
