package repository

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

type ListFilter struct {
	Status models.Status
	Limit  int
}

// ReportRepository persists scan records. SaveReport enforces the status
// transition table against the stored record; terminal records are frozen.
type ReportRepository interface {
	SaveReport(ctx context.Context, s *models.Scan) error
	LoadReport(ctx context.Context, id uuid.UUID) (*models.Scan, error)
	// Claim moves a QUEUED scan to PROCESSING atomically. Any other current
	// state yields models.ErrConflict.
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Scan, error)
	ListReports(ctx context.Context, f ListFilter) ([]*models.Scan, error)
	DeleteReport(ctx context.Context, id uuid.UUID) error
}

// BlobStore keeps the original upload and thumbnails, one namespace per scan.
type BlobStore interface {
	PutMedia(ctx context.Context, id uuid.UUID, ext string, data []byte) error
	GetMedia(ctx context.Context, id uuid.UUID) ([]byte, error)
	OpenMedia(ctx context.Context, id uuid.UUID) (Blob, error)
	PutThumbnail(ctx context.Context, id uuid.UUID, frameIndex int, img image.Image) (string, error)
	OpenThumbnail(ctx context.Context, id uuid.UUID, key string) (Blob, error)
	DeleteScan(ctx context.Context, id uuid.UUID) error
}

type Blob interface {
	io.ReadSeekCloser
	Name() string
	ModTime() time.Time
}

type ScanStore interface {
	ReportRepository
	BlobStore
}

type store struct {
	ReportRepository
	BlobStore
}

func NewScanStore(reports ReportRepository, blobs BlobStore) ScanStore {
	return store{ReportRepository: reports, BlobStore: blobs}
}
