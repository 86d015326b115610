package crop

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	xdraw "golang.org/x/image/draw"
)

// PigoConfig tunes the cascade scan. Zero fields take the defaults below.
type PigoConfig struct {
	CascadePath string
	MinSize     int
	MaxSize     int
	// Detections scoring below MinQuality are dropped.
	MinQuality float32
}

// PigoDetector finds frontal faces with a pigo pixel-intensity cascade.
// A loaded cascade is read-only, so one detector serves all frame workers.
type PigoDetector struct {
	classifier *pigo.Pigo
	minSize    int
	maxSize    int
	minQuality float32
}

func NewPigoDetector(cfg PigoConfig) (*PigoDetector, error) {
	raw, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read face cascade: %w", err)
	}
	cls, err := pigo.NewPigo().Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("unpack face cascade %s: %w", cfg.CascadePath, err)
	}

	if cfg.MinSize <= 0 {
		cfg.MinSize = 30
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 2000
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = 5
	}
	return &PigoDetector{
		classifier: cls,
		minSize:    cfg.MinSize,
		maxSize:    cfg.MaxSize,
		minQuality: cfg.MinQuality,
	}, nil
}

func (d *PigoDetector) Detect(img image.Image) []image.Rectangle {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	cols, rows := b.Dx(), b.Dy()

	params := pigo.CascadeParams{
		MinSize:     d.minSize,
		MaxSize:     min(d.maxSize, max(cols, rows)),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(atOrigin(img)),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	dets := d.classifier.RunCascade(params, 0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	var faces []image.Rectangle
	for _, det := range dets {
		if det.Q < d.minQuality {
			continue
		}
		half := det.Scale / 2
		faces = append(faces, image.Rect(
			det.Col-half, det.Row-half,
			det.Col+half, det.Row+half,
		).Add(b.Min))
	}
	return faces
}

// atOrigin returns img with its bounds starting at (0, 0); the grayscale
// conversion indexes pixels from the origin.
func atOrigin(img image.Image) image.Image {
	b := img.Bounds()
	if b.Min == (image.Point{}) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}
