package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-forensics/internal/scan/classifier"
	"github.com/romariotrain/media-forensics/internal/scan/decode"
	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/pipeline"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
	"github.com/romariotrain/media-forensics/internal/scan/sampler"
	"github.com/romariotrain/media-forensics/internal/scan/scorer"
	"github.com/romariotrain/media-forensics/internal/scan/spectral"
	"github.com/romariotrain/media-forensics/internal/scan/verdict"
	"github.com/romariotrain/media-forensics/internal/storage/blob"
)

func newStore(t *testing.T) repository.ScanStore {
	t.Helper()
	fs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)
	return repository.NewScanStore(repository.NewMemoryRepository(), fs)
}

func newManager(t *testing.T, a Analyzer, cfg Config) (*Manager, repository.ScanStore) {
	t.Helper()
	store := newStore(t)
	cfg.Logger = zerolog.Nop()
	return New(store, a, cfg), store
}

func realPipeline(t *testing.T, d decode.Decoder, cls classifier.Scorer) *pipeline.Pipeline {
	t.Helper()
	agg, err := verdict.NewAggregator(verdict.DefaultThresholds())
	require.NoError(t, err)
	sc := scorer.New(spectral.New(), cls, nil, scorer.Config{Workers: 4, Logger: zerolog.Nop()})
	return pipeline.New(d, sampler.New(10, 4), sc, agg, zerolog.Nop())
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// clipSource is a ten second clip at 30 fps.
type clipSource struct{}

func (clipSource) Duration() float64       { return 10 }
func (clipSource) FrameCountEstimate() int { return 300 }
func (clipSource) Close() error            { return nil }

func (clipSource) FrameAt(_ context.Context, ts float64) (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(int(ts*10) + i)
	}
	return img, nil
}

type clipDecoder struct{}

func (clipDecoder) Open(context.Context, []byte, models.MediaType) (decode.Source, error) {
	return clipSource{}, nil
}

func TestCreate_InvalidArguments(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		fileName string
		data     []byte
		wantErr  error
	}{
		{name: "unsupported format", fileName: "notes.txt", data: []byte("x"), wantErr: models.ErrInvalidArgument},
		{name: "no extension", fileName: "clip", data: []byte("x"), wantErr: models.ErrInvalidArgument},
		{name: "empty upload", fileName: "clip.mp4", data: nil, wantErr: models.ErrInvalidArgument},
		{name: "too large", fileName: "clip.mp4", data: make([]byte, 11), wantErr: models.ErrTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := new(StoreMock)
			m := New(st, &analyzerStub{}, Config{MaxUploadBytes: 10, Logger: zerolog.Nop()})

			got, err := m.Create(ctx, tc.fileName, tc.data)
			require.ErrorIs(t, err, tc.wantErr)
			require.Nil(t, got)
			st.AssertNotCalled(t, "PutMedia", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			st.AssertNotCalled(t, "SaveReport", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_SetsFieldsAndPersists(t *testing.T) {
	ctx := context.Background()
	st := new(StoreMock)
	m := New(st, &analyzerStub{}, Config{Logger: zerolog.Nop()})

	fixedID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	fixedTime := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	m.idGen = func() uuid.UUID { return fixedID }
	m.clock = func() time.Time { return fixedTime }

	data := []byte("mp4-bytes")
	st.On("PutMedia", mock.Anything, fixedID, ".mp4", data).Return(nil).Once()
	st.On("SaveReport", mock.Anything, mock.MatchedBy(func(s *models.Scan) bool {
		return s.ID == fixedID &&
			s.Status == models.QueuedStatus &&
			s.MediaType == models.Video &&
			s.FileName == "clip.MP4" &&
			s.CreatedAt.Equal(fixedTime)
	})).Return(nil).Once()

	got, err := m.Create(ctx, "/uploads/clip.MP4", data)
	require.NoError(t, err)
	assert.Equal(t, fixedID, got.ID)
	assert.Equal(t, models.QueuedStatus, got.Status)
	assert.Len(t, m.queue, 1)
	st.AssertExpectations(t)
}

func TestCreate_SaveFailureRemovesMedia(t *testing.T) {
	ctx := context.Background()
	st := new(StoreMock)
	m := New(st, &analyzerStub{}, Config{Logger: zerolog.Nop()})

	st.On("PutMedia", mock.Anything, mock.Anything, ".png", mock.Anything).Return(nil).Once()
	st.On("SaveReport", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	st.On("DeleteScan", mock.Anything, mock.Anything).Return(nil).Once()

	got, err := m.Create(ctx, "a.png", []byte("png"))
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Empty(t, m.queue)
	st.AssertExpectations(t)
}

func TestCreate_QueueFull(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, &analyzerStub{fn: fixedReport(0.5)}, Config{QueueSize: 1})

	first, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, models.QueuedStatus, first.Status)

	second, err := m.Create(ctx, "b.png", []byte("png"))
	require.ErrorIs(t, err, models.ErrQueueFull)
	require.NotNil(t, second)

	stored, err := store.LoadReport(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, stored.Status)
	assert.Equal(t, "QueueFull", stored.ErrorKind)
	assert.NotEmpty(t, stored.Error)
}

func TestRun_ImageDeepfake(t *testing.T) {
	ctx := context.Background()
	p := realPipeline(t, decode.Mux{Image: decode.Still{}}, classifier.Static(0.95))
	m, _ := newManager(t, p, Config{})

	s, err := m.Create(ctx, "face.png", pngBytes(t))
	require.NoError(t, err)

	require.NoError(t, m.Run(ctx, s.ID))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DoneStatus, got.Status)
	assert.Equal(t, models.Deepfake, got.Verdict)
	assert.InDelta(t, 95.0, got.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, got.TotalFramesAnalyzed)
	require.Len(t, got.FrameData, 1)
	assert.Equal(t, 0.0, got.FrameData[0].Timestamp)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Error)
}

func TestRun_VideoFramesOrdered(t *testing.T) {
	ctx := context.Background()
	p := realPipeline(t, clipDecoder{}, classifier.Static(0.1))
	m, _ := newManager(t, p, Config{})

	s, err := m.Create(ctx, "clip.mp4", []byte("mp4"))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, s.ID))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.DoneStatus, got.Status)
	assert.Equal(t, models.Real, got.Verdict)
	assert.Equal(t, 10, got.TotalFramesAnalyzed)
	require.Len(t, got.FrameData, 10)
	for i := 1; i < len(got.FrameData); i++ {
		assert.Greater(t, got.FrameData[i].Timestamp, got.FrameData[i-1].Timestamp)
	}
}

func TestRun_DecodeFailure(t *testing.T) {
	ctx := context.Background()
	p := realPipeline(t, decode.Mux{Image: decode.Still{}}, classifier.Static(0.5))
	m, _ := newManager(t, p, Config{})

	s, err := m.Create(ctx, "broken.jpg", []byte("definitely not a jpeg"))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, s.ID))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
	assert.Equal(t, "DecodeError", got.ErrorKind)
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, got.FrameData)
	assert.Zero(t, got.TotalFramesAnalyzed)
	assert.Empty(t, got.Verdict)
}

func TestRun_ClassifierFailsMidway(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	cls := classifier.Func(func(context.Context, image.Image) (float64, error) {
		if calls.Add(1) == 5 {
			return 0, errors.New("inference backend returned 500")
		}
		return 0.2, nil
	})
	m, _ := newManager(t, realPipeline(t, clipDecoder{}, cls), Config{})

	s, err := m.Create(ctx, "clip.mov", []byte("mov"))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, s.ID))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
	assert.Equal(t, "ScoringError", got.ErrorKind)
	assert.Empty(t, got.FrameData)
	assert.Empty(t, got.Verdict)
}

func TestRun_ConcurrentRunsExecuteOnce(t *testing.T) {
	ctx := context.Background()
	a := &analyzerStub{fn: func(context.Context, uuid.UUID, models.MediaType, []byte) (*pipeline.Report, error) {
		time.Sleep(20 * time.Millisecond)
		return fixedReport(0.9)(ctx, uuid.Nil, "", nil)
	}}
	m, _ := newManager(t, a, Config{})

	s, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Run(ctx, s.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), a.calls.Load())
	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DoneStatus, got.Status)
}

func TestRun_TerminalScanIsNotRerun(t *testing.T) {
	ctx := context.Background()
	a := &analyzerStub{fn: fixedReport(0.1)}
	m, _ := newManager(t, a, Config{})

	s, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, s.ID))
	done, err := m.Get(ctx, s.ID)
	require.NoError(t, err)

	require.NoError(t, m.Run(ctx, s.ID))
	again, err := m.Get(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, done, again)
}

func TestRun_UnknownScan(t *testing.T) {
	m, _ := newManager(t, &analyzerStub{fn: fixedReport(0.1)}, Config{})

	err := m.Run(context.Background(), uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRun_Timeout(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	m, _ := newManager(t, &analyzerStub{fn: blockUntilDone(started)}, Config{
		TimeoutBase:     20 * time.Millisecond,
		TimeoutPerFrame: time.Millisecond,
	})

	s, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, s.ID))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
	assert.Equal(t, "Timeout", got.ErrorKind)
}

func TestCancel_Running(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	m, _ := newManager(t, &analyzerStub{fn: blockUntilDone(started)}, Config{})

	s, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, s.ID) }()

	<-started
	require.NoError(t, m.Cancel(ctx, s.ID))
	require.NoError(t, <-done)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
	assert.Equal(t, "Canceled", got.ErrorKind)
}

func TestCancel_QueuedAndTerminal(t *testing.T) {
	ctx := context.Background()
	a := &analyzerStub{fn: fixedReport(0.5)}
	m, _ := newManager(t, a, Config{})

	s, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, s.ID))
	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
	assert.Equal(t, "Canceled", got.ErrorKind)

	// The queued id is still delivered to a worker; it must not run.
	require.NoError(t, m.Run(ctx, s.ID))
	assert.Zero(t, a.calls.Load())

	require.ErrorIs(t, m.Cancel(ctx, s.ID), models.ErrConflict)
	require.ErrorIs(t, m.Cancel(ctx, uuid.New()), models.ErrNotFound)
}

func TestCancel_FailureRestoresDroppedQueueEntry(t *testing.T) {
	ctx := context.Background()
	st := new(StoreMock)
	m := New(st, &analyzerStub{}, Config{Logger: zerolog.Nop()})
	id := uuid.New()

	loading := make(chan struct{})
	proceed := make(chan struct{})
	st.On("LoadReport", mock.Anything, id).
		Run(func(mock.Arguments) {
			close(loading)
			<-proceed
		}).
		Return(nil, context.Canceled).
		Once()

	done := make(chan error, 1)
	go func() { done <- m.Cancel(ctx, id) }()
	<-loading

	// A worker dequeues the scan while Cancel holds it and gives up.
	require.NoError(t, m.Run(ctx, id))
	close(proceed)

	require.ErrorIs(t, <-done, context.Canceled)
	require.Len(t, m.queue, 1)
	assert.Equal(t, id, <-m.queue)
	st.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestCancel_FailureWithoutWorkerDoesNotRequeue(t *testing.T) {
	ctx := context.Background()
	st := new(StoreMock)
	m := New(st, &analyzerStub{}, Config{Logger: zerolog.Nop()})
	id := uuid.New()

	st.On("LoadReport", mock.Anything, id).Return(nil, errors.New("connection reset")).Once()

	require.Error(t, m.Cancel(ctx, id))
	assert.Empty(t, m.queue)
	st.AssertExpectations(t)
}

func TestRequeueStale(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, &analyzerStub{}, Config{StaleAfter: 30 * time.Minute})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)
	m.clock = func() time.Time { return now }

	queuedScan := func(created time.Time) uuid.UUID {
		s := &models.Scan{
			ID:        uuid.New(),
			Status:    models.QueuedStatus,
			MediaType: models.Image,
			FileName:  "a.png",
			CreatedAt: created,
			UpdatedAt: created,
		}
		require.NoError(t, store.SaveReport(ctx, s))
		return s.ID
	}

	// Old and never handed to this process's queue.
	lost := queuedScan(old)
	// Recent: still within its grace period.
	queuedScan(now.Add(-time.Minute))

	// Old but still waiting in the queue.
	m.clock = func() time.Time { return old }
	waiting, err := m.Create(ctx, "b.png", []byte("png"))
	require.NoError(t, err)
	m.clock = func() time.Time { return now }

	n, err := m.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, m.queue, 2)
	assert.Equal(t, waiting.ID, <-m.queue)
	assert.Equal(t, lost, <-m.queue)

	// Entries still waiting are not duplicated.
	m.dequeued(waiting.ID)
	m.dequeued(lost)
	require.True(t, m.enqueue(lost))
	n, err = m.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.queue, 2)
}

func TestGet_Unknown(t *testing.T) {
	m, _ := newManager(t, &analyzerStub{}, Config{})

	_, err := m.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = m.Get(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, &analyzerStub{fn: fixedReport(0.5)}, Config{})

	s, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)

	require.ErrorIs(t, m.Delete(ctx, s.ID), models.ErrConflict)

	require.NoError(t, m.Run(ctx, s.ID))
	require.NoError(t, m.Delete(ctx, s.ID))

	_, err = m.Get(ctx, s.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.GetMedia(ctx, s.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &analyzerStub{}, Config{})

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		m.clock = func() time.Time { return at }
		s, err := m.Create(ctx, "a.png", []byte("png"))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	got, err := m.List(ctx, repository.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestFailStale(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, &analyzerStub{}, Config{StaleAfter: 30 * time.Minute})

	stale, err := m.Create(ctx, "a.png", []byte("png"))
	require.NoError(t, err)
	_, err = store.Claim(ctx, stale.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	fresh, err := m.Create(ctx, "b.png", []byte("png"))
	require.NoError(t, err)
	_, err = store.Claim(ctx, fresh.ID, time.Now())
	require.NoError(t, err)

	n, err := m.FailStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedStatus, got.Status)
	assert.Equal(t, "Timeout", got.ErrorKind)

	got, err = m.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatus, got.Status)
}

func TestStart_RecoversQueuedScans(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// Left behind by a previous process: stored but never enqueued here.
	id := uuid.New()
	require.NoError(t, store.PutMedia(ctx, id, ".png", []byte("png")))
	require.NoError(t, store.SaveReport(ctx, &models.Scan{
		ID:        id,
		Status:    models.QueuedStatus,
		MediaType: models.Image,
		FileName:  "a.png",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))

	m := New(store, &analyzerStub{fn: fixedReport(0.9)}, Config{Workers: 2, Logger: zerolog.Nop()})

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan error, 1)
	go func() { stopped <- m.Start(runCtx) }()

	require.Eventually(t, func() bool {
		s, err := m.Get(ctx, id)
		return err == nil && s.Status == models.DoneStatus
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-stopped, context.Canceled)
}

func TestStart_ProcessesSubmissions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := realPipeline(t, decode.Mux{Image: decode.Still{}}, classifier.Static(0.5))
	m, _ := newManager(t, p, Config{Workers: 1})
	go m.Start(ctx)

	s, err := m.Create(ctx, "a.png", pngBytes(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(ctx, s.ID)
		return err == nil && got.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DoneStatus, got.Status)
	assert.Equal(t, models.Uncertain, got.Verdict)
}
