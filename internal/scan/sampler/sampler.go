// Package sampler picks the frames of a media source that get scored.
package sampler

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/media-forensics/internal/scan/decode"
	"github.com/romariotrain/media-forensics/internal/scan/models"
)

const (
	DefaultBudget = 20
	// MaxBudget bounds processing cost regardless of configuration.
	MaxBudget = 120
)

type Frame struct {
	Index     int
	Timestamp float64
	Image     image.Image
}

type Sampler struct {
	budget  int
	workers int
}

func New(budget, workers int) *Sampler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if budget > MaxBudget {
		budget = MaxBudget
	}
	if workers <= 0 {
		workers = 1
	}
	return &Sampler{budget: budget, workers: workers}
}

func (s *Sampler) Budget() int {
	return s.budget
}

// Timestamps returns up to budget evenly spaced, strictly increasing
// timestamps in [0, duration). Short media get every available frame.
func Timestamps(duration float64, frameCount, budget int) []float64 {
	if budget <= 0 || frameCount <= 0 {
		return nil
	}
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return []float64{0}
	}

	n := budget
	step := duration / float64(budget)
	if frameCount <= budget {
		n = frameCount
		step = duration / float64(frameCount)
	}

	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		ts := math.Round(float64(i)*step*1000) / 1000
		if len(out) > 0 && ts <= out[len(out)-1] {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// Sample extracts frames from src. Images yield exactly one frame at 0.
// Extraction is parallel up to the worker limit, output is in timestamp order.
func (s *Sampler) Sample(ctx context.Context, src decode.Source, mediaType models.MediaType) ([]Frame, error) {
	var stamps []float64
	if mediaType == models.Image {
		stamps = []float64{0}
	} else {
		stamps = Timestamps(src.Duration(), src.FrameCountEstimate(), s.budget)
	}
	if len(stamps) == 0 {
		return nil, fmt.Errorf("%w: source has no usable frames", models.ErrDecode)
	}

	frames := make([]Frame, len(stamps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, ts := range stamps {
		g.Go(func() error {
			img, err := src.FrameAt(gctx, ts)
			if err != nil {
				return fmt.Errorf("frame %d at %.3fs: %w", i, ts, err)
			}
			if img == nil || img.Bounds().Empty() {
				return fmt.Errorf("%w: frame %d at %.3fs is empty", models.ErrDecode, i, ts)
			}
			frames[i] = Frame{Index: i, Timestamp: ts, Image: img}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}
