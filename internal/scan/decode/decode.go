// Package decode is the media decode capability used by the frame sampler:
// it opens raw upload bytes and exposes duration, frame count and random
// access to frames. Video goes through ffmpeg, stills are decoded in-process.
package decode

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

type Source interface {
	// Duration in seconds, 0 for still images.
	Duration() float64
	FrameCountEstimate() int
	FrameAt(ctx context.Context, timestamp float64) (image.Image, error)
	Close() error
}

type Decoder interface {
	Open(ctx context.Context, data []byte, mediaType models.MediaType) (Source, error)
}

var extensions = map[string]models.MediaType{
	".mp4":  models.Video,
	".avi":  models.Video,
	".mov":  models.Video,
	".mkv":  models.Video,
	".jpg":  models.Image,
	".jpeg": models.Image,
	".png":  models.Image,
	".webp": models.Image,
	".bmp":  models.Image,
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// MediaTypeFor resolves the media type from the declared file name and
// returns the normalised extension.
func MediaTypeFor(fileName string) (models.MediaType, string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	mt, ok := extensions[ext]
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported media format %q", models.ErrInvalidArgument, ext)
	}
	return mt, ext, nil
}

func ContentType(fileName string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Mux routes Open to the decoder registered for the media type.
type Mux struct {
	Video Decoder
	Image Decoder
}

func (m Mux) Open(ctx context.Context, data []byte, mediaType models.MediaType) (Source, error) {
	switch mediaType {
	case models.Video:
		if m.Video == nil {
			return nil, fmt.Errorf("%w: no video decoder configured", models.ErrDecode)
		}
		return m.Video.Open(ctx, data, mediaType)
	case models.Image:
		if m.Image == nil {
			return nil, fmt.Errorf("%w: no image decoder configured", models.ErrDecode)
		}
		return m.Image.Open(ctx, data, mediaType)
	default:
		return nil, fmt.Errorf("%w: unknown media type %q", models.ErrDecode, mediaType)
	}
}
