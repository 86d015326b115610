package service

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/pipeline"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) SaveReport(ctx context.Context, s *models.Scan) error {
	return m.Called(ctx, s).Error(0)
}

func (m *StoreMock) LoadReport(ctx context.Context, id uuid.UUID) (*models.Scan, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*models.Scan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Scan, error) {
	args := m.Called(ctx, id, at)
	if v := args.Get(0); v != nil {
		return v.(*models.Scan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) ListReports(ctx context.Context, f repository.ListFilter) ([]*models.Scan, error) {
	args := m.Called(ctx, f)
	if v := args.Get(0); v != nil {
		return v.([]*models.Scan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) DeleteReport(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *StoreMock) PutMedia(ctx context.Context, id uuid.UUID, ext string, data []byte) error {
	return m.Called(ctx, id, ext, data).Error(0)
}

func (m *StoreMock) GetMedia(ctx context.Context, id uuid.UUID) ([]byte, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) OpenMedia(ctx context.Context, id uuid.UUID) (repository.Blob, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(repository.Blob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) PutThumbnail(ctx context.Context, id uuid.UUID, frameIndex int, img image.Image) (string, error) {
	args := m.Called(ctx, id, frameIndex, img)
	return args.String(0), args.Error(1)
}

func (m *StoreMock) OpenThumbnail(ctx context.Context, id uuid.UUID, key string) (repository.Blob, error) {
	args := m.Called(ctx, id, key)
	if v := args.Get(0); v != nil {
		return v.(repository.Blob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) DeleteScan(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// analyzerStub counts calls and delegates to fn.
type analyzerStub struct {
	budget int
	calls  atomic.Int32
	fn     func(ctx context.Context, id uuid.UUID, mt models.MediaType, data []byte) (*pipeline.Report, error)
}

func (a *analyzerStub) Analyze(ctx context.Context, id uuid.UUID, mt models.MediaType, data []byte) (*pipeline.Report, error) {
	a.calls.Add(1)
	return a.fn(ctx, id, mt, data)
}

func (a *analyzerStub) Budget() int {
	if a.budget == 0 {
		return 1
	}
	return a.budget
}

func fixedReport(p float64) func(context.Context, uuid.UUID, models.MediaType, []byte) (*pipeline.Report, error) {
	return func(context.Context, uuid.UUID, models.MediaType, []byte) (*pipeline.Report, error) {
		return &pipeline.Report{
			Frames:          []models.FrameData{{Timestamp: 0, AIProbability: p, FFTAnomaly: 10}},
			Verdict:         models.Uncertain,
			ConfidenceScore: p * 100,
			FFTScore:        10,
		}, nil
	}
}

// blockUntilDone signals started and waits for the run context to end.
func blockUntilDone(started chan<- struct{}) func(context.Context, uuid.UUID, models.MediaType, []byte) (*pipeline.Report, error) {
	return func(ctx context.Context, _ uuid.UUID, _ models.MediaType, _ []byte) (*pipeline.Report, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
