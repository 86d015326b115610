// Package verdict reduces a scan's frame series to a confidence score and a
// categorical verdict.
package verdict

import (
	"fmt"
	"math"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

const (
	DefaultHighThreshold = 70.0
	DefaultLowThreshold  = 30.0
)

// Thresholds is the tunable policy surface. Both bounds are closed:
// a score equal to High is DEEPFAKE, a score equal to Low is REAL.
type Thresholds struct {
	High float64
	Low  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighThreshold, Low: DefaultLowThreshold}
}

func (t Thresholds) Validate() error {
	if math.IsNaN(t.High) || math.IsNaN(t.Low) {
		return fmt.Errorf("%w: thresholds must be numbers", models.ErrInvalidArgument)
	}
	if t.Low < 0 || t.High > 100 {
		return fmt.Errorf("%w: thresholds must lie in [0,100], got low=%v high=%v", models.ErrInvalidArgument, t.Low, t.High)
	}
	if t.Low >= t.High {
		return fmt.Errorf("%w: low threshold %v must be below high threshold %v", models.ErrInvalidArgument, t.Low, t.High)
	}
	return nil
}

// Classify maps a confidence score onto a verdict.
func (t Thresholds) Classify(confidence float64) models.Verdict {
	switch {
	case confidence >= t.High:
		return models.Deepfake
	case confidence <= t.Low:
		return models.Real
	default:
		return models.Uncertain
	}
}

type Result struct {
	ConfidenceScore float64
	Verdict         models.Verdict
	FFTScore        float64
}

type Aggregator struct {
	thresholds Thresholds
}

func NewAggregator(t Thresholds) (*Aggregator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{thresholds: t}, nil
}

func (a *Aggregator) Thresholds() Thresholds {
	return a.thresholds
}

// Aggregate has no side effects. Empty input is an invariant violation upstream
// and is rejected with ErrInsufficientData.
func (a *Aggregator) Aggregate(frames []models.FrameData) (Result, error) {
	if len(frames) == 0 {
		return Result{}, fmt.Errorf("aggregate: %w: no frames", models.ErrInsufficientData)
	}

	var sumAI, sumFFT float64
	for _, f := range frames {
		sumAI += f.AIProbability
		sumFFT += f.FFTAnomaly
	}
	n := float64(len(frames))

	confidence := clamp(100*sumAI/n, 0, 100)

	return Result{
		ConfidenceScore: confidence,
		Verdict:         a.thresholds.Classify(confidence),
		FFTScore:        sumFFT / n,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
