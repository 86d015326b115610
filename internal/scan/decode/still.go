package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"

	// Registered formats for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

type Still struct{}

func (Still) Open(ctx context.Context, data []byte, _ models.MediaType) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrDecode)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", models.ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", models.ErrDecode, format)
	}
	return &stillSource{img: img}, nil
}

type stillSource struct {
	img image.Image
}

func (s *stillSource) Duration() float64       { return 0 }
func (s *stillSource) FrameCountEstimate() int { return 1 }
func (s *stillSource) Close() error            { return nil }

func (s *stillSource) FrameAt(ctx context.Context, _ float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.img, nil
}
