// Package service owns the scan lifecycle: submission, scheduling on a
// bounded worker pool, the single run of each scan, and its final report.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-forensics/internal/metrics"
	"github.com/romariotrain/media-forensics/internal/scan/decode"
	"github.com/romariotrain/media-forensics/internal/scan/domain"
	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/pipeline"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
)

// sweepLimit bounds how many records one recovery or watchdog pass loads.
const sweepLimit = 1000

type Analyzer interface {
	Analyze(ctx context.Context, scanID uuid.UUID, mediaType models.MediaType, data []byte) (*pipeline.Report, error)
	Budget() int
}

type Config struct {
	Workers          int
	QueueSize        int
	MaxUploadBytes   int64
	TimeoutBase      time.Duration
	TimeoutPerFrame  time.Duration
	StaleAfter       time.Duration
	WatchdogInterval time.Duration
	Logger           zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 500 << 20
	}
	if c.TimeoutBase <= 0 {
		c.TimeoutBase = 30 * time.Second
	}
	if c.TimeoutPerFrame <= 0 {
		c.TimeoutPerFrame = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = time.Minute
	}
}

// job is a scan reserved by this process. cancel is nil until the scan is
// claimed; a cancel requested before that is remembered in canceled.
// A reservation held by Cancel itself has held set, and missed records that
// a worker dequeued the scan meanwhile and dropped it.
type job struct {
	cancel   context.CancelCauseFunc
	canceled bool
	held     bool
	missed   bool
}

type Manager struct {
	store    repository.ScanStore
	analyzer Analyzer
	cfg      Config
	queue    chan uuid.UUID
	logger   zerolog.Logger

	clock func() time.Time
	idGen func() uuid.UUID

	mu        sync.Mutex
	inflight  map[uuid.UUID]*job
	scheduled map[uuid.UUID]struct{}
}

func New(store repository.ScanStore, analyzer Analyzer, cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{
		store:    store,
		analyzer: analyzer,
		cfg:      cfg,
		queue:    make(chan uuid.UUID, cfg.QueueSize),
		logger:   cfg.Logger.With().Str("component", "scan_manager").Logger(),
		clock:    time.Now,
		idGen:    uuid.New,
		inflight: make(map[uuid.UUID]*job),

		scheduled: make(map[uuid.UUID]struct{}),
	}
}

// Create validates and stores the upload, records a QUEUED scan and schedules
// it. When the queue is full the scan is failed right away and ErrQueueFull
// is returned along with the failed record.
func (m *Manager) Create(ctx context.Context, fileName string, data []byte) (*models.Scan, error) {
	mediaType, ext, err := decode.MediaTypeFor(fileName)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", models.ErrInvalidArgument)
	}
	if int64(len(data)) > m.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", models.ErrTooLarge, len(data), m.cfg.MaxUploadBytes)
	}

	now := m.clock()
	s := &models.Scan{
		ID:        m.idGen(),
		Status:    models.QueuedStatus,
		MediaType: mediaType,
		FileName:  filepath.Base(fileName),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.PutMedia(ctx, s.ID, ext, data); err != nil {
		return nil, fmt.Errorf("store media: %w", err)
	}
	if err := m.store.SaveReport(ctx, s); err != nil {
		if derr := m.store.DeleteScan(context.WithoutCancel(ctx), s.ID); derr != nil {
			m.logger.Warn().Err(derr).Stringer("scan_id", s.ID).Msg("failed to remove orphaned media")
		}
		return nil, fmt.Errorf("save report: %w", err)
	}
	metrics.ScansCreated.WithLabelValues(string(mediaType)).Inc()

	m.logger.Info().
		Stringer("scan_id", s.ID).
		Str("media_type", string(mediaType)).
		Int("bytes", len(data)).
		Msg("scan queued")

	if !m.enqueue(s.ID) {
		failed, err := m.fail(ctx, s, fmt.Errorf("%w: %d scans waiting", models.ErrQueueFull, m.cfg.QueueSize))
		if err != nil {
			return nil, err
		}
		return failed, models.ErrQueueFull
	}
	return s, nil
}

// requeue puts back a scan whose queue entry was consumed without a run.
// A full queue leaves it to the watchdog.
func (m *Manager) requeue(id uuid.UUID) {
	if m.enqueue(id) {
		m.logger.Info().Stringer("scan_id", id).Msg("scan re-queued")
		return
	}
	m.logger.Warn().Stringer("scan_id", id).Msg("queue full, scan left for the watchdog")
}

// enqueue schedules id without blocking. An id already waiting in the queue
// counts as scheduled.
func (m *Manager) enqueue(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scheduled[id]; ok {
		return true
	}
	select {
	case m.queue <- id:
		m.scheduled[id] = struct{}{}
		metrics.QueueDepth.Inc()
		return true
	default:
		return false
	}
}

func (m *Manager) dequeued(id uuid.UUID) {
	m.mu.Lock()
	delete(m.scheduled, id)
	m.mu.Unlock()
	metrics.QueueDepth.Dec()
}

// Run executes the scan once. A scan that another caller already claimed is
// left alone and Run returns nil. Analysis failures are recorded on the scan;
// the returned error only reports what could not be persisted.
func (m *Manager) Run(ctx context.Context, id uuid.UUID) error {
	if !m.reserve(id) {
		m.logger.Debug().Stringer("scan_id", id).Msg("scan already reserved in this process")
		return nil
	}
	defer m.release(id)

	log := m.logger.With().Stringer("scan_id", id).Logger()

	s, err := m.store.Claim(ctx, id, m.clock())
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			log.Debug().Err(err).Msg("scan already claimed")
			return nil
		}
		return fmt.Errorf("claim scan: %w", err)
	}

	timeout := m.cfg.TimeoutBase + time.Duration(m.analyzer.Budget())*m.cfg.TimeoutPerFrame
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	runCtx, stop := context.WithTimeoutCause(runCtx, timeout, fmt.Errorf("%w after %s", models.ErrTimeout, timeout))
	defer stop()

	m.mu.Lock()
	j := m.inflight[id]
	j.cancel = cancel
	if j.canceled {
		cancel(models.ErrCanceled)
	}
	m.mu.Unlock()

	metrics.ScansInFlight.Inc()
	defer metrics.ScansInFlight.Dec()

	log.Info().Str("media_type", string(s.MediaType)).Dur("timeout", timeout).Msg("scan started")
	start := time.Now()

	report, err := m.analyze(runCtx, s)
	metrics.ScanDuration.WithLabelValues(string(s.MediaType)).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warn().Err(err).Str("error_kind", models.ErrorKind(err)).Msg("scan failed")
		_, ferr := m.fail(ctx, s, err)
		return ferr
	}

	_, err = m.complete(ctx, s, report)
	if err == nil {
		log.Info().
			Str("verdict", string(report.Verdict)).
			Float64("confidence", report.ConfidenceScore).
			Int("frames", len(report.Frames)).
			Dur("elapsed", time.Since(start)).
			Msg("scan done")
	}
	return err
}

func (m *Manager) analyze(ctx context.Context, s *models.Scan) (*pipeline.Report, error) {
	data, err := m.store.GetMedia(ctx, s.ID)
	if err != nil {
		return nil, m.runError(ctx, fmt.Errorf("load media: %w", err))
	}
	report, err := m.analyzer.Analyze(ctx, s.ID, s.MediaType, data)
	if err != nil {
		return nil, m.runError(ctx, err)
	}
	return report, nil
}

// runError attributes a failure to the run context's cause when the context
// ended first: explicit cancel, timeout, or process shutdown.
func (m *Manager) runError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, models.ErrTimeout), errors.Is(cause, models.ErrCanceled):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", models.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", models.ErrCanceled, cause)
	}
}

func (m *Manager) complete(ctx context.Context, s *models.Scan, r *pipeline.Report) (*models.Scan, error) {
	now := m.clock()
	done := s.Clone()
	done.Status = models.DoneStatus
	done.FrameData = r.Frames
	done.TotalFramesAnalyzed = len(r.Frames)
	done.Verdict = r.Verdict
	done.ConfidenceScore = r.ConfidenceScore
	done.FFTScore = r.FFTScore
	done.UpdatedAt = now
	done.FinishedAt = &now

	if err := m.store.SaveReport(context.WithoutCancel(ctx), done); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	metrics.ScansCompleted.WithLabelValues(string(done.Status), string(done.Verdict)).Inc()
	return done, nil
}

func (m *Manager) fail(ctx context.Context, s *models.Scan, cause error) (*models.Scan, error) {
	now := m.clock()
	failed := s.Clone()
	failed.Status = models.FailedStatus
	failed.FrameData = nil
	failed.TotalFramesAnalyzed = 0
	failed.Verdict = ""
	failed.ConfidenceScore = 0
	failed.FFTScore = 0
	failed.Error = cause.Error()
	failed.ErrorKind = models.ErrorKind(cause)
	failed.UpdatedAt = now
	failed.FinishedAt = &now

	if err := m.store.SaveReport(context.WithoutCancel(ctx), failed); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	metrics.ScansCompleted.WithLabelValues(string(failed.Status), "").Inc()
	return failed, nil
}

func (m *Manager) reserve(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.inflight[id]; ok {
		if j.held {
			j.missed = true
		}
		return false
	}
	m.inflight[id] = &job{}
	return true
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

func (m *Manager) waiting(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scheduled[id]
	return ok
}

func (m *Manager) running(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[id]
	return ok
}

// Get never blocks on a running scan.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Scan, error) {
	if id == uuid.Nil {
		return nil, models.ErrNotFound
	}
	return m.store.LoadReport(ctx, id)
}

func (m *Manager) List(ctx context.Context, f repository.ListFilter) ([]*models.Scan, error) {
	return m.store.ListReports(ctx, f)
}

// Cancel stops a running scan or fails a queued one. Terminal scans yield
// ErrConflict. A running scan is failed asynchronously by its worker.
// If the cancel does not go through and a worker dropped the scan while
// Cancel held it, the scan is queued again.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (err error) {
	m.mu.Lock()
	if j, ok := m.inflight[id]; ok {
		if j.cancel != nil {
			j.cancel(models.ErrCanceled)
		} else {
			j.canceled = true
		}
		m.mu.Unlock()
		m.logger.Info().Stringer("scan_id", id).Msg("scan cancel requested")
		return nil
	}
	held := &job{held: true}
	m.inflight[id] = held
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		missed := held.missed
		delete(m.inflight, id)
		m.mu.Unlock()
		if missed && err != nil && !errors.Is(err, models.ErrConflict) && !errors.Is(err, models.ErrNotFound) {
			m.requeue(id)
		}
	}()

	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("scan %s is %s: %w", id, s.Status, models.ErrConflict)
	}

	if _, err := m.fail(ctx, s, models.ErrCanceled); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("scan %s finished meanwhile: %w", id, models.ErrConflict)
		}
		return err
	}
	m.logger.Info().Stringer("scan_id", id).Str("status", string(s.Status)).Msg("scan canceled")
	return nil
}

// Delete removes a terminal scan together with its media and thumbnails.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.Status.IsTerminal() {
		return fmt.Errorf("scan %s is %s: %w", id, s.Status, models.ErrConflict)
	}
	if err := m.store.DeleteReport(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteScan(ctx, id); err != nil {
		return fmt.Errorf("delete blobs: %w", err)
	}
	m.logger.Info().Stringer("scan_id", id).Msg("scan deleted")
	return nil
}

// Start runs the worker pool, the recovery pass and the watchdog until ctx
// is canceled, then waits for running scans to wind down.
func (m *Manager) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.work(ctx, i)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.recoverQueued(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error().Err(err).Msg("recovery pass failed")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.watchdog(ctx)
	}()

	m.logger.Info().
		Int("workers", m.cfg.Workers).
		Int("queue_size", m.cfg.QueueSize).
		Msg("scan manager started")

	wg.Wait()
	m.logger.Info().Msg("scan manager stopped")
	return ctx.Err()
}

func (m *Manager) work(ctx context.Context, n int) {
	log := m.logger.With().Int("worker", n).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.dequeued(id)
			if err := m.Run(ctx, id); err != nil {
				log.Error().Err(err).Stringer("scan_id", id).Msg("scan run failed")
			}
		}
	}
}

// recoverQueued schedules QUEUED scans left behind by a previous process.
func (m *Manager) recoverQueued(ctx context.Context) error {
	queued, err := m.store.ListReports(ctx, repository.ListFilter{Status: models.QueuedStatus, Limit: sweepLimit})
	if err != nil {
		return fmt.Errorf("list queued: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	m.logger.Info().Int("count", len(queued)).Msg("re-queueing scans")
	// Oldest first, the list comes newest first.
	for i := len(queued) - 1; i >= 0; i-- {
		id := queued[i].ID

		m.mu.Lock()
		_, dup := m.scheduled[id]
		m.scheduled[id] = struct{}{}
		m.mu.Unlock()
		if dup {
			continue
		}

		select {
		case <-ctx.Done():
			m.mu.Lock()
			delete(m.scheduled, id)
			m.mu.Unlock()
			return ctx.Err()
		case m.queue <- id:
			metrics.QueueDepth.Inc()
		}
	}
	return nil
}

func (m *Manager) watchdog(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.FailStale(ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("watchdog pass failed")
			} else if n > 0 {
				m.logger.Warn().Int("count", n).Msg("stale scans failed")
			}

			n, err = m.RequeueStale(ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("watchdog requeue pass failed")
			} else if n > 0 {
				m.logger.Warn().Int("count", n).Msg("stale queued scans re-queued")
			}
		}
	}
}

// FailStale fails PROCESSING scans that started more than StaleAfter ago
// and are not running in this process. It returns how many were failed.
func (m *Manager) FailStale(ctx context.Context) (int, error) {
	processing, err := m.store.ListReports(ctx, repository.ListFilter{Status: models.ProcessingStatus, Limit: sweepLimit})
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}

	cutoff := m.clock().Add(-m.cfg.StaleAfter)
	failed := 0
	for _, s := range processing {
		if s.StartedAt == nil || s.StartedAt.After(cutoff) || m.running(s.ID) {
			continue
		}
		cause := fmt.Errorf("%w: no progress since %s", models.ErrTimeout, s.StartedAt.UTC().Format(time.RFC3339))
		if _, err := m.fail(ctx, s, cause); err != nil {
			m.logger.Warn().Err(err).Stringer("scan_id", s.ID).Msg("failed to fail stale scan")
			continue
		}
		failed++
	}
	return failed, nil
}

// RequeueStale schedules again QUEUED scans created more than StaleAfter ago
// that this process neither holds nor has waiting in its queue. Their queue
// entry was lost, for instance when recording a queue-full failure did not
// persist. Claim still lets only one run through.
func (m *Manager) RequeueStale(ctx context.Context) (int, error) {
	queued, err := m.store.ListReports(ctx, repository.ListFilter{Status: models.QueuedStatus, Limit: sweepLimit})
	if err != nil {
		return 0, fmt.Errorf("list queued: %w", err)
	}

	cutoff := m.clock().Add(-m.cfg.StaleAfter)
	requeued := 0
	for i := len(queued) - 1; i >= 0; i-- {
		s := queued[i]
		if s.CreatedAt.After(cutoff) || m.running(s.ID) || m.waiting(s.ID) {
			continue
		}
		if !m.enqueue(s.ID) {
			break
		}
		requeued++
	}
	return requeued, nil
}
