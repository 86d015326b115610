// Package crop narrows a frame to the largest detected face before it is
// analysed. Frames without a face pass through whole.
package crop

import (
	"image"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
)

// Detector finds face boxes in img, in img's coordinate space.
type Detector interface {
	Detect(img image.Image) []image.Rectangle
}

type Option func(*Cropper)

// WithPadding grows the face box by frac of its width on every side.
func WithPadding(frac float64) Option {
	return func(c *Cropper) {
		if frac >= 0 {
			c.padding = frac
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cropper) {
		c.logger = l.With().Str("component", "face_cropper").Logger()
	}
}

type Cropper struct {
	detector Detector
	padding  float64
	logger   zerolog.Logger
}

func New(d Detector, opts ...Option) *Cropper {
	c := &Cropper{detector: d, padding: 0.15, logger: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Crop returns the padded region around the largest face in img, clamped
// to img's bounds, or img itself when no face is found.
func (c *Cropper) Crop(img image.Image) image.Image {
	faces := c.detector.Detect(img)
	box, ok := Largest(faces)
	if !ok {
		c.logger.Debug().Msg("no face detected, analysing full frame")
		return img
	}

	region := Pad(box, c.padding).Intersect(img.Bounds())
	if region.Empty() {
		return img
	}
	c.logger.Debug().Stringer("face", box).Stringer("region", region).Msg("face detected")
	return subImage(img, region)
}

// Largest picks the face with the biggest area. Ties keep the first one.
func Largest(faces []image.Rectangle) (image.Rectangle, bool) {
	var (
		best  image.Rectangle
		found bool
	)
	for _, f := range faces {
		if f.Empty() {
			continue
		}
		if !found || area(f) > area(best) {
			best, found = f, true
		}
	}
	return best, found
}

// Pad grows r by frac of its width on each side.
func Pad(r image.Rectangle, frac float64) image.Rectangle {
	p := int(float64(r.Dx()) * frac)
	return r.Inset(-p)
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, r.Min, xdraw.Src)
	return dst
}
