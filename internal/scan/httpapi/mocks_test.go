package httpapi

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Create(ctx context.Context, fileName string, data []byte) (*models.Scan, error) {
	args := m.Called(ctx, fileName, data)
	if v := args.Get(0); v != nil {
		return v.(*models.Scan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ServiceMock) Get(ctx context.Context, id uuid.UUID) (*models.Scan, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*models.Scan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ServiceMock) List(ctx context.Context, f repository.ListFilter) ([]*models.Scan, error) {
	args := m.Called(ctx, f)
	if v := args.Get(0); v != nil {
		return v.([]*models.Scan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ServiceMock) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *ServiceMock) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MediaMock struct {
	mock.Mock
}

func (m *MediaMock) OpenMedia(ctx context.Context, id uuid.UUID) (repository.Blob, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(repository.Blob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MediaMock) OpenThumbnail(ctx context.Context, id uuid.UUID, key string) (repository.Blob, error) {
	args := m.Called(ctx, id, key)
	if v := args.Get(0); v != nil {
		return v.(repository.Blob), args.Error(1)
	}
	return nil, args.Error(1)
}

type memBlob struct {
	*bytes.Reader
	name string
}

func newBlob(name string, data []byte) *memBlob {
	return &memBlob{Reader: bytes.NewReader(data), name: name}
}

func (b *memBlob) Name() string       { return b.name }
func (b *memBlob) ModTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
func (b *memBlob) Close() error       { return nil }
