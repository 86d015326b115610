package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-forensics/internal/scan/domain"
	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
)

const scanColumns = `id, status, media_type, file_name, created_at, updated_at, started_at, finished_at,
	frame_data, total_frames_analyzed, verdict, confidence_score, fft_score, error, error_kind`

// ScanRepo stores scan reports. Every status change is recorded in the
// outbox within the same transaction.
type ScanRepo struct {
	db     *sqlx.DB
	outbox *OutboxRepo
}

func NewScanRepo(db *sqlx.DB, outbox *OutboxRepo) *ScanRepo {
	return &ScanRepo{db: db, outbox: outbox}
}

func (r *ScanRepo) SaveReport(ctx context.Context, s *models.Scan) error {
	if s == nil || s.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}

	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var cur models.Status
		err := tx.GetContext(ctx, &cur, `SELECT status FROM scans WHERE id = $1 FOR UPDATE`, s.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if s.Status != models.QueuedStatus {
				return fmt.Errorf("save report %s: %w: new scans start %s", s.ID, models.ErrConflict, models.QueuedStatus)
			}
		case err != nil:
			return fmt.Errorf("scan lock: %w", err)
		default:
			if err := domain.ValidateTransition(cur, s.Status); err != nil {
				return fmt.Errorf("save report %s: %w", s.ID, err)
			}
		}

		const q = `
			INSERT INTO scans (` + scanColumns + `)
			VALUES (:id, :status, :media_type, :file_name, :created_at, :updated_at, :started_at, :finished_at,
				:frame_data, :total_frames_analyzed, :verdict, :confidence_score, :fft_score, :error, :error_kind)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at,
				started_at = EXCLUDED.started_at,
				finished_at = EXCLUDED.finished_at,
				frame_data = EXCLUDED.frame_data,
				total_frames_analyzed = EXCLUDED.total_frames_analyzed,
				verdict = EXCLUDED.verdict,
				confidence_score = EXCLUDED.confidence_score,
				fft_score = EXCLUDED.fft_score,
				error = EXCLUDED.error,
				error_kind = EXCLUDED.error_kind
		`
		if _, err := tx.NamedExecContext(ctx, q, s); err != nil {
			return fmt.Errorf("scan upsert: %w", err)
		}

		if cur != s.Status {
			if err := r.outbox.Add(ctx, tx, models.NewScanStatusChanged(s.ID, cur, s.Status, s.Verdict)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ScanRepo) LoadReport(ctx context.Context, id uuid.UUID) (*models.Scan, error) {
	if id == uuid.Nil {
		return nil, models.ErrNotFound
	}

	var s models.Scan
	if err := r.db.GetContext(ctx, &s, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan get by id: %w", err)
	}
	return &s, nil
}

func (r *ScanRepo) Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Scan, error) {
	var claimed models.Scan
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		const q = `
			UPDATE scans
			SET status = $2, started_at = $3, updated_at = $3
			WHERE id = $1 AND status = $4
			RETURNING ` + scanColumns

		err := tx.GetContext(ctx, &claimed, q, id, models.ProcessingStatus, at, models.QueuedStatus)
		if errors.Is(err, sql.ErrNoRows) {
			var cur models.Status
			if err := tx.GetContext(ctx, &cur, `SELECT status FROM scans WHERE id = $1`, id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return models.ErrNotFound
				}
				return fmt.Errorf("scan claim lookup: %w", err)
			}
			return fmt.Errorf("claim %s in %s: %w", id, cur, models.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("scan claim: %w", err)
		}

		return r.outbox.Add(ctx, tx, models.NewScanStatusChanged(id, models.QueuedStatus, models.ProcessingStatus, ""))
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

func (r *ScanRepo) ListReports(ctx context.Context, f repository.ListFilter) ([]*models.Scan, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = repository.DefaultListLimit
	}

	q := `SELECT ` + scanColumns + ` FROM scans`
	args := []any{}
	if f.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, f.Status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var out []*models.Scan
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("scan list: %w", err)
	}
	return out, nil
}

func (r *ScanRepo) DeleteReport(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("scan delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("scan delete: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *ScanRepo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
