package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status string

const (
	QueuedStatus     Status = "QUEUED"
	ProcessingStatus Status = "PROCESSING"
	DoneStatus       Status = "DONE"
	FailedStatus     Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	return s == DoneStatus || s == FailedStatus
}

type MediaType string

const (
	Video MediaType = "video"
	Image MediaType = "image"
)

type Verdict string

const (
	Deepfake  Verdict = "DEEPFAKE"
	Real      Verdict = "REAL"
	Uncertain Verdict = "UNCERTAIN"
)

// FrameData is one sampled instant of a scan.
type FrameData struct {
	Timestamp     float64 `json:"timestamp"`
	AIProbability float64 `json:"ai_probability"`
	FFTAnomaly    float64 `json:"fft_anomaly"`
	Thumbnail     string  `json:"thumbnail,omitempty"`
}

// FrameSeries is stored as a single JSONB column.
type FrameSeries []FrameData

func (f FrameSeries) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

func (f *FrameSeries) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("frame series: unsupported type %T", src)
	}
	var out []FrameData
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("frame series: %w", err)
	}
	*f = out
	return nil
}

type Scan struct {
	ID                  uuid.UUID   `db:"id"`
	Status              Status      `db:"status"`
	MediaType           MediaType   `db:"media_type"`
	FileName            string      `db:"file_name"`
	CreatedAt           time.Time   `db:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
	StartedAt           *time.Time  `db:"started_at"`
	FinishedAt          *time.Time  `db:"finished_at"`
	FrameData           FrameSeries `db:"frame_data"`
	TotalFramesAnalyzed int         `db:"total_frames_analyzed"`
	Verdict             Verdict     `db:"verdict"`
	ConfidenceScore     float64     `db:"confidence_score"`
	FFTScore            float64     `db:"fft_score"`
	Error               string      `db:"error"`
	ErrorKind           string      `db:"error_kind"`
}

// Clone returns a deep copy so stored records cannot be mutated by callers.
func (s *Scan) Clone() *Scan {
	cp := *s
	if s.FrameData != nil {
		cp.FrameData = append(FrameSeries(nil), s.FrameData...)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
