package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-forensics/internal/scan/decode"
	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
)

const (
	maxListLimit = 1000
	// multipart framing on top of the file itself
	formOverhead = 1 << 20
)

type ScanService interface {
	Create(ctx context.Context, fileName string, data []byte) (*models.Scan, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Scan, error)
	List(ctx context.Context, f repository.ListFilter) ([]*models.Scan, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MediaStore interface {
	OpenMedia(ctx context.Context, id uuid.UUID) (repository.Blob, error)
	OpenThumbnail(ctx context.Context, id uuid.UUID, key string) (repository.Blob, error)
}

type Handler struct {
	svc       ScanService
	media     MediaStore
	maxUpload int64
	logger    zerolog.Logger
}

func New(svc ScanService, media MediaStore, maxUpload int64, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		media:     media,
		maxUpload: maxUpload,
		logger:    logger.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formOverhead)
	defer r.Body.Close()

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorJSON(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeErrorJSON(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	s, err := h.svc.Create(r.Context(), header.Filename, data)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{
		ScanID:    s.ID,
		Status:    s.Status,
		StatusURL: statusURL(s.ID),
	})
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	s, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if !s.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, PendingResponse{Status: s.Status})
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(s))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var f repository.ListFilter

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeErrorJSON(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(limit, maxListLimit)
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		f.Status = models.Status(raw)
		switch f.Status {
		case models.QueuedStatus, models.ProcessingStatus, models.DoneStatus, models.FailedStatus:
		default:
			writeErrorJSON(w, http.StatusBadRequest, "unknown status")
			return
		}
	}

	scans, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]ReportResponse, 0, len(scans))
	for _, s := range scans {
		out = append(out, toReportResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	blob, err := h.media.OpenMedia(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", decode.ContentType(blob.Name()))
	http.ServeContent(w, r, blob.Name(), blob.ModTime(), blob)
}

func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	blob, err := h.media.OpenThumbnail(r.Context(), id, chi.URLParam(r, "name"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeContent(w, r, blob.Name(), blob.ModTime(), blob)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scan_id": id.String(), "status": "cancel requested"})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scanID parses the {scanID} path parameter. Ids that cannot exist are
// reported as not found.
func scanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil || id == uuid.Nil {
		writeErrorJSON(w, http.StatusNotFound, "scan not found")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "scan not found")
	case errors.Is(err, models.ErrInvalidArgument):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrTooLarge):
		writeErrorJSON(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, models.ErrConflict):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		writeErrorJSON(w, http.StatusServiceUnavailable, "scan queue is full, retry later")
	default:
		h.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
