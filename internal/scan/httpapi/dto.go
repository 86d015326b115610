package httpapi

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

type SubmitResponse struct {
	ScanID    uuid.UUID     `json:"scan_id"`
	Status    models.Status `json:"status"`
	StatusURL string        `json:"status_url"`
}

// PendingResponse is returned while a scan is not terminal.
type PendingResponse struct {
	Status models.Status `json:"status"`
}

type FrameResponse struct {
	Timestamp     float64 `json:"timestamp"`
	AIProbability float64 `json:"ai_probability"`
	FFTAnomaly    float64 `json:"fft_anomaly"`
	Thumbnail     string  `json:"thumbnail,omitempty"`
}

type ReportResponse struct {
	ScanID              uuid.UUID        `json:"scan_id"`
	Status              models.Status    `json:"status"`
	MediaType           models.MediaType `json:"media_type"`
	FileName            string           `json:"file_name"`
	CreatedAt           int64            `json:"created_at"`
	FrameData           []FrameResponse  `json:"frame_data"`
	TotalFramesAnalyzed int              `json:"total_frames_analyzed"`
	Verdict             models.Verdict   `json:"verdict,omitempty"`
	ConfidenceScore     float64          `json:"confidence_score"`
	FFTScore            float64          `json:"fft_score"`
	VideoURL            string           `json:"video_url"`
	Error               string           `json:"error,omitempty"`
	ErrorKind           string           `json:"error_kind,omitempty"`
}

func statusURL(id uuid.UUID) string {
	return fmt.Sprintf("/api/results/%s", id)
}

func thumbnailURL(id uuid.UUID, key string) string {
	return fmt.Sprintf("/api/scans/%s/thumbnails/%s", id, key)
}

func toReportResponse(s *models.Scan) ReportResponse {
	frames := make([]FrameResponse, 0, len(s.FrameData))
	for _, f := range s.FrameData {
		fr := FrameResponse{
			Timestamp:     f.Timestamp,
			AIProbability: f.AIProbability,
			FFTAnomaly:    f.FFTAnomaly,
		}
		if f.Thumbnail != "" {
			fr.Thumbnail = thumbnailURL(s.ID, f.Thumbnail)
		}
		frames = append(frames, fr)
	}

	return ReportResponse{
		ScanID:              s.ID,
		Status:              s.Status,
		MediaType:           s.MediaType,
		FileName:            s.FileName,
		CreatedAt:           s.CreatedAt.Unix(),
		FrameData:           frames,
		TotalFramesAnalyzed: s.TotalFramesAnalyzed,
		Verdict:             s.Verdict,
		ConfidenceScore:     s.ConfidenceScore,
		FFTScore:            s.FFTScore,
		VideoURL:            fmt.Sprintf("/api/video/%s", s.ID),
		Error:               s.Error,
		ErrorKind:           s.ErrorKind,
	}
}
