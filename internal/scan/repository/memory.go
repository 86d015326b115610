package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-forensics/internal/scan/domain"
	"github.com/romariotrain/media-forensics/internal/scan/models"
)

const DefaultListLimit = 100

// MemoryRepository keeps reports in process memory. It is used when no
// database is configured and by tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*models.Scan
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: make(map[uuid.UUID]*models.Scan),
	}
}

func (r *MemoryRepository) SaveReport(ctx context.Context, s *models.Scan) error {
	if s == nil || s.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.data[s.ID]; ok {
		if err := domain.ValidateTransition(cur.Status, s.Status); err != nil {
			return fmt.Errorf("save report %s: %w", s.ID, err)
		}
	} else if s.Status != models.QueuedStatus {
		return fmt.Errorf("save report %s: %w: new scans start %s", s.ID, models.ErrConflict, models.QueuedStatus)
	}

	// Stored copy, so callers cannot mutate the record behind the lock.
	r.data[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) LoadReport(ctx context.Context, id uuid.UUID) (*models.Scan, error) {
	if id == uuid.Nil {
		return nil, models.ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if s.Status != models.QueuedStatus {
		return nil, fmt.Errorf("claim %s in %s: %w", id, s.Status, models.ErrConflict)
	}

	s.Status = models.ProcessingStatus
	s.StartedAt = &at
	s.UpdatedAt = at
	return s.Clone(), nil
}

func (r *MemoryRepository) ListReports(ctx context.Context, f ListFilter) ([]*models.Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	r.mu.RLock()
	out := make([]*models.Scan, 0, len(r.data))
	for _, s := range r.data {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.Scan) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) DeleteReport(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.data, id)
	return nil
}
