package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	Logger      zerolog.Logger
}

// FFmpeg decodes video by shelling out to ffprobe/ffmpeg. The upload is
// spooled to a temp file for the lifetime of the Source.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	tempDir string
	logger  zerolog.Logger
}

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: cfg.FFprobePath,
		tempDir: cfg.TempDir,
		logger:  cfg.Logger.With().Str("component", "ffmpeg_decoder").Logger(),
	}
}

func (f *FFmpeg) Open(ctx context.Context, data []byte, _ models.MediaType) (Source, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty video", models.ErrDecode)
	}

	tmp, err := os.CreateTemp(f.tempDir, "scan-*.media")
	if err != nil {
		return nil, fmt.Errorf("spool video: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, fmt.Errorf("spool video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("spool video: %w", err)
	}

	info, err := f.probe(ctx, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	f.logger.Debug().
		Float64("duration", info.duration).
		Float64("fps", info.fps).
		Int("frames", info.frames).
		Msg("video probed")

	return &videoSource{dec: f, path: path, info: info}, nil
}

type probeInfo struct {
	duration float64
	fps      float64
	frames   int
}

func (f *FFmpeg) probe(ctx context.Context, path string) (probeInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.ffprobe, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return probeInfo{}, ctxErr
		}
		return probeInfo{}, fmt.Errorf("%w: ffprobe: %v: %s", models.ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(stdout.Bytes())
}

type probeOutput struct {
	Streams []struct {
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(raw []byte) (probeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return probeInfo{}, fmt.Errorf("%w: parse ffprobe output: %w", models.ErrDecode, err)
	}
	if len(out.Streams) == 0 {
		return probeInfo{}, fmt.Errorf("%w: no video stream", models.ErrDecode)
	}
	st := out.Streams[0]

	fps := parseRational(st.AvgFrameRate)
	if fps <= 0 {
		fps = parseRational(st.RFrameRate)
	}

	duration, _ := strconv.ParseFloat(st.Duration, 64)
	if duration <= 0 {
		duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}

	frames, _ := strconv.Atoi(st.NbFrames)
	if frames <= 0 && fps > 0 && duration > 0 {
		frames = int(math.Floor(duration * fps))
	}
	if fps <= 0 && frames > 0 && duration > 0 {
		fps = float64(frames) / duration
	}

	if duration <= 0 || frames <= 0 {
		return probeInfo{}, fmt.Errorf("%w: video has no usable frames", models.ErrDecode)
	}

	return probeInfo{duration: duration, fps: fps, frames: frames}, nil
}

// parseRational reads ffprobe rates such as "30000/1001". Zero on failure.
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type videoSource struct {
	dec  *FFmpeg
	path string
	info probeInfo
}

func (s *videoSource) Duration() float64       { return s.info.duration }
func (s *videoSource) FrameCountEstimate() int { return s.info.frames }

func (s *videoSource) FrameAt(ctx context.Context, timestamp float64) (image.Image, error) {
	// -ss before -i seeks on the input, which is what keeps per-frame extraction cheap.
	args := []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.dec.ffmpeg, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg frame at %.3fs: %v: %s", models.ErrDecode, timestamp, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: no frame at %.3fs", models.ErrDecode, timestamp)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: frame at %.3fs: %w", models.ErrDecode, timestamp, err)
	}
	return img, nil
}

func (s *videoSource) Close() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spooled video: %w", err)
	}
	return nil
}
