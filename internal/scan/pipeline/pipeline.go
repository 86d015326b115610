// Package pipeline runs one scan end to end: decode, sample, score, aggregate.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-forensics/internal/scan/decode"
	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/sampler"
	"github.com/romariotrain/media-forensics/internal/scan/scorer"
	"github.com/romariotrain/media-forensics/internal/scan/verdict"
)

type Report struct {
	Frames          []models.FrameData
	Verdict         models.Verdict
	ConfidenceScore float64
	FFTScore        float64
}

type Pipeline struct {
	decoder    decode.Decoder
	sampler    *sampler.Sampler
	scorer     *scorer.Scorer
	aggregator *verdict.Aggregator
	logger     zerolog.Logger
}

func New(d decode.Decoder, s *sampler.Sampler, sc *scorer.Scorer, agg *verdict.Aggregator, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		decoder:    d,
		sampler:    s,
		scorer:     sc,
		aggregator: agg,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Budget is the maximum number of frames a single scan analyses.
func (p *Pipeline) Budget() int {
	return p.sampler.Budget()
}

// Analyze produces the full report or an error. It never returns partial
// frame data.
func (p *Pipeline) Analyze(ctx context.Context, scanID uuid.UUID, mediaType models.MediaType, data []byte) (*Report, error) {
	log := p.logger.With().Stringer("scan_id", scanID).Logger()

	src, err := p.decoder.Open(ctx, data, mediaType)
	if err != nil {
		return nil, classify(err, models.ErrDecode)
	}
	defer src.Close()

	frames, err := p.sampler.Sample(ctx, src, mediaType)
	if err != nil {
		return nil, classify(err, models.ErrDecode)
	}
	log.Debug().
		Int("frames", len(frames)).
		Float64("duration", src.Duration()).
		Msg("frames sampled")

	scored, err := p.scorer.Score(ctx, scanID, frames)
	if err != nil {
		return nil, classify(err, models.ErrScoring)
	}

	res, err := p.aggregator.Aggregate(scored)
	if err != nil {
		return nil, err
	}

	return &Report{
		Frames:          scored,
		Verdict:         res.Verdict,
		ConfidenceScore: res.ConfidenceScore,
		FFTScore:        res.FFTScore,
	}, nil
}

// classify wraps err with kind unless it already carries a failure class or
// is a context error.
func classify(err, kind error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if models.ErrorKind(err) != "Internal" {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
