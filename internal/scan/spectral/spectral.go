// Package spectral scores frames by how their frequency-domain energy is
// distributed. Synthetic faces tend to carry excess high-frequency energy
// that natural camera images do not.
package spectral

import (
	"fmt"
	"image"
	"math"
	"math/cmplx"
	"strings"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

const DefaultMaxSide = 256

// Spectrum is the centred magnitude spectrum of a luminance frame.
// Mag is row-major with the zero frequency at (Rows/2, Cols/2).
type Spectrum struct {
	Rows, Cols int
	Mag        []float64
	LowRadius  int
}

func (s *Spectrum) At(r, c int) float64 {
	return s.Mag[r*s.Cols+c]
}

// InLowBand reports whether (r, c) falls in the masked low-frequency block.
func (s *Spectrum) InLowBand(r, c int) bool {
	cr, cc := s.Rows/2, s.Cols/2
	return r >= cr-s.LowRadius && r < cr+s.LowRadius &&
		c >= cc-s.LowRadius && c < cc+s.LowRadius
}

// Statistic turns a spectrum into a non-negative anomaly score.
type Statistic func(s *Spectrum) float64

// HighFrequencyMean is the mean log-magnitude 20*ln(|F|+1) over the spectrum
// with the low-frequency block zeroed.
func HighFrequencyMean(s *Spectrum) float64 {
	var sum float64
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			if s.InLowBand(r, c) {
				continue
			}
			sum += 20 * math.Log(s.At(r, c)+1)
		}
	}
	return sum / float64(s.Rows*s.Cols)
}

// HighFrequencyRatio is the percentage of spectral energy outside the
// low-frequency block. The DC term carries mean luminance, so the ratio is
// normalised against overall brightness.
func HighFrequencyRatio(s *Spectrum) float64 {
	var total, high float64
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			e := s.At(r, c) * s.At(r, c)
			total += e
			if !s.InLowBand(r, c) {
				high += e
			}
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * high / total
}

func StatisticByName(name string) (Statistic, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hf_mean", "high_frequency_mean":
		return HighFrequencyMean, nil
	case "hf_ratio", "high_frequency_ratio":
		return HighFrequencyRatio, nil
	default:
		return nil, fmt.Errorf("%w: unknown spectral statistic %q", models.ErrInvalidArgument, name)
	}
}

type Analyzer struct {
	maxSide   int
	statistic Statistic
}

type Option func(*Analyzer)

func WithMaxSide(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxSide = n
		}
	}
}

func WithStatistic(s Statistic) Option {
	return func(a *Analyzer) {
		if s != nil {
			a.statistic = s
		}
	}
}

func New(opts ...Option) *Analyzer {
	a := &Analyzer{maxSide: DefaultMaxSide, statistic: HighFrequencyMean}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze is deterministic and safe for concurrent use.
func (a *Analyzer) Analyze(img image.Image) (float64, error) {
	if img == nil {
		return 0, fmt.Errorf("%w: nil image", models.ErrAnalysis)
	}
	if img.Bounds().Empty() {
		return 0, fmt.Errorf("%w: empty image", models.ErrAnalysis)
	}

	gray := a.luminance(img)
	sp := Transform(gray)

	score := a.statistic(sp)
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return 0, fmt.Errorf("%w: statistic produced %v", models.ErrAnalysis, score)
	}
	return score, nil
}

// luminance converts to 8-bit Rec. 601 luma, downscaling so the longer side
// is at most maxSide.
func (a *Analyzer) luminance(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if longest := max(w, h); longest > a.maxSide {
		scale := float64(a.maxSide) / float64(longest)
		w = max(1, int(math.Round(float64(w)*scale)))
		h = max(1, int(math.Round(float64(h)*scale)))
		dst := image.NewGray(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		return dst
	}

	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Transform computes the centred 2-D magnitude spectrum of g.
func Transform(g *image.Gray) *Spectrum {
	rows, cols := g.Bounds().Dy(), g.Bounds().Dx()
	data := make([]complex128, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			data[y*cols+x] = complex(float64(g.GrayAt(x, y).Y), 0)
		}
	}

	rowFFT := fourier.NewCmplxFFT(cols)
	row := make([]complex128, cols)
	for y := 0; y < rows; y++ {
		line := data[y*cols : (y+1)*cols]
		rowFFT.Coefficients(row, line)
		copy(line, row)
	}

	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	out := make([]complex128, rows)
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			col[y] = data[y*cols+x]
		}
		colFFT.Coefficients(out, col)
		for y := 0; y < rows; y++ {
			data[y*cols+x] = out[y]
		}
	}

	mag := make([]float64, rows*cols)
	for y := 0; y < rows; y++ {
		sy := (y + rows/2) % rows
		for x := 0; x < cols; x++ {
			sx := (x + cols/2) % cols
			mag[sy*cols+sx] = cmplx.Abs(data[y*cols+x])
		}
	}

	return &Spectrum{
		Rows:      rows,
		Cols:      cols,
		Mag:       mag,
		LowRadius: lowRadius(rows, cols),
	}
}

// lowRadius scales the fixed 30px mask used on ~256px face crops.
func lowRadius(rows, cols int) int {
	return max(1, int(math.Round(float64(min(rows, cols))*30/DefaultMaxSide)))
}
