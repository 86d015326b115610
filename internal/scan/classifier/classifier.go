// Package classifier defines the synthetic-media scoring capability and the
// adapters that implement it. The pipeline only relies on Scorer: one image
// in, a probability in [0,1] out.
package classifier

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

type Scorer interface {
	Score(ctx context.Context, img image.Image) (float64, error)
}

// BatchScorer is optional. Output order matches input order.
type BatchScorer interface {
	Scorer
	ScoreBatch(ctx context.Context, imgs []image.Image) ([]float64, error)
}

// Validate rejects probabilities outside [0,1], including NaN.
func Validate(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: probability %v out of range [0,1]", models.ErrScoring, p)
	}
	return nil
}

// Func adapts a plain function to Scorer.
type Func func(ctx context.Context, img image.Image) (float64, error)

func (f Func) Score(ctx context.Context, img image.Image) (float64, error) {
	return f(ctx, img)
}

// Static always returns the same probability.
type Static float64

func (s Static) Score(ctx context.Context, _ image.Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return float64(s), nil
}

// Serialize wraps an adapter that is not safe for concurrent use.
func Serialize(s Scorer) Scorer {
	base := &serialized{next: s}
	if b, ok := s.(BatchScorer); ok {
		return &serializedBatch{serialized: base, batch: b}
	}
	return base
}

type serialized struct {
	mu   sync.Mutex
	next Scorer
}

func (s *serialized) Score(ctx context.Context, img image.Image) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Score(ctx, img)
}

type serializedBatch struct {
	*serialized
	batch BatchScorer
}

func (s *serializedBatch) ScoreBatch(ctx context.Context, imgs []image.Image) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch.ScoreBatch(ctx, imgs)
}

// Limit caps the number of concurrent calls into s across all scans.
func Limit(s Scorer, n int) Scorer {
	if n <= 0 {
		n = 1
	}
	base := &limited{sem: semaphore.NewWeighted(int64(n)), next: s}
	if b, ok := s.(BatchScorer); ok {
		return &limitedBatch{limited: base, batch: b}
	}
	return base
}

type limited struct {
	sem  *semaphore.Weighted
	next Scorer
}

func (l *limited) Score(ctx context.Context, img image.Image) (float64, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer l.sem.Release(1)
	return l.next.Score(ctx, img)
}

type limitedBatch struct {
	*limited
	batch BatchScorer
}

func (l *limitedBatch) ScoreBatch(ctx context.Context, imgs []image.Image) ([]float64, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.batch.ScoreBatch(ctx, imgs)
}
