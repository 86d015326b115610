// Package scorer turns sampled frames into FrameData by running the spectral
// analyzer and the synthesis classifier on each of them.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/media-forensics/internal/metrics"
	"github.com/romariotrain/media-forensics/internal/scan/classifier"
	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/sampler"
)

type SpectralAnalyzer interface {
	Analyze(img image.Image) (float64, error)
}

type ThumbnailWriter interface {
	PutThumbnail(ctx context.Context, scanID uuid.UUID, frameIndex int, img image.Image) (string, error)
}

// Cropper narrows a frame to the region worth analysing.
type Cropper interface {
	Crop(img image.Image) image.Image
}

type Config struct {
	Workers int
	// Cropper is optional; without it frames are analysed whole.
	Cropper Cropper
	Logger  zerolog.Logger
}

type Scorer struct {
	spectral   SpectralAnalyzer
	classifier classifier.Scorer
	thumbs     ThumbnailWriter
	cropper    Cropper
	workers    int
	logger     zerolog.Logger
}

// New builds a Scorer. thumbs may be nil, in which case no thumbnails are written.
func New(spectral SpectralAnalyzer, cls classifier.Scorer, thumbs ThumbnailWriter, cfg Config) *Scorer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scorer{
		spectral:   spectral,
		classifier: cls,
		thumbs:     thumbs,
		cropper:    cfg.Cropper,
		workers:    cfg.Workers,
		logger:     cfg.Logger.With().Str("component", "frame_scorer").Logger(),
	}
}

// Score returns one FrameData per frame, ordered by timestamp. Any analysis
// or scoring failure aborts the whole set; thumbnail failures do not.
// Analysis sees the cropped frame, thumbnails keep the full one.
func (s *Scorer) Score(ctx context.Context, scanID uuid.UUID, frames []sampler.Frame) ([]models.FrameData, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames to score", models.ErrInsufficientData)
	}

	out := make([]models.FrameData, len(frames))
	inputs := make([]image.Image, len(frames))
	batch, isBatch := s.classifier.(classifier.BatchScorer)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, f := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			inputs[i] = s.crop(f.Image)
			fd, err := s.scoreFrame(gctx, scanID, f, inputs[i], !isBatch)
			if err != nil {
				return err
			}
			out[i] = fd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if isBatch {
		if err := s.scoreBatch(ctx, batch, frames, inputs, out); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(out, func(a, b models.FrameData) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp <= out[i-1].Timestamp {
			return nil, fmt.Errorf("%w: duplicate frame timestamp %.3f", models.ErrDecode, out[i].Timestamp)
		}
	}

	metrics.FramesAnalyzed.Add(float64(len(out)))
	return out, nil
}

func (s *Scorer) scoreFrame(ctx context.Context, scanID uuid.UUID, f sampler.Frame, img image.Image, classify bool) (models.FrameData, error) {
	anomaly, err := s.spectral.Analyze(img)
	if err != nil {
		return models.FrameData{}, fmt.Errorf("frame %d: %w", f.Index, err)
	}

	fd := models.FrameData{Timestamp: f.Timestamp, FFTAnomaly: anomaly}

	if classify {
		p, err := s.classifier.Score(ctx, img)
		if err != nil {
			return models.FrameData{}, fmt.Errorf("frame %d: %w", f.Index, scoringError(err))
		}
		if err := classifier.Validate(p); err != nil {
			return models.FrameData{}, fmt.Errorf("frame %d: %w", f.Index, err)
		}
		fd.AIProbability = p
	}

	fd.Thumbnail = s.thumbnail(ctx, scanID, f)
	return fd, nil
}

func (s *Scorer) scoreBatch(ctx context.Context, batch classifier.BatchScorer, frames []sampler.Frame, imgs []image.Image, out []models.FrameData) error {
	probs, err := batch.ScoreBatch(ctx, imgs)
	if err != nil {
		return fmt.Errorf("batch of %d frames: %w", len(frames), scoringError(err))
	}
	if len(probs) != len(frames) {
		return fmt.Errorf("%w: batch returned %d probabilities for %d frames", models.ErrScoring, len(probs), len(frames))
	}
	for i, p := range probs {
		if err := classifier.Validate(p); err != nil {
			return fmt.Errorf("frame %d: %w", frames[i].Index, err)
		}
		out[i].AIProbability = p
	}
	return nil
}

func (s *Scorer) crop(img image.Image) image.Image {
	if s.cropper == nil {
		return img
	}
	return s.cropper.Crop(img)
}

// thumbnail is best-effort: a failed write is logged and the key omitted.
func (s *Scorer) thumbnail(ctx context.Context, scanID uuid.UUID, f sampler.Frame) string {
	if s.thumbs == nil {
		return ""
	}
	key, err := s.thumbs.PutThumbnail(ctx, scanID, f.Index, f.Image)
	if err != nil {
		s.logger.Warn().
			Err(fmt.Errorf("%w: %w", models.ErrThumbnailWrite, err)).
			Str("scan_id", scanID.String()).
			Int("frame", f.Index).
			Msg("thumbnail not saved")
		return ""
	}
	return key
}

// scoringError tags adapter failures as ScoringError unless they are
// already classified or come from the scan's own context.
func scoringError(err error) error {
	if errors.Is(err, models.ErrScoring) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrScoring, err)
}
