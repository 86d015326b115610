package spectral

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

func flat(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func checkerboard(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / w)})
		}
	}
	return img
}

// noise is a fixed LCG sequence so the test stays deterministic.
func noise(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	state := uint32(12345)
	for i := range img.Pix {
		state = state*1103515245 + 12345
		img.Pix[i] = uint8(state >> 24)
	}
	return img
}

// wave has a single horizontal frequency that falls inside the low band.
func wave(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 128 + 100*math.Cos(2*math.Pi*float64(x)/float64(w))
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(v))})
		}
	}
	return img
}

func TestAnalyze_FlatImageHasNoHighFrequencyEnergy(t *testing.T) {
	score, err := New().Analyze(flat(64, 64, 128))
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-6)
}

func TestAnalyze_NoiseIsMoreAnomalousThanSmoothImage(t *testing.T) {
	a := New()

	noisy, err := a.Analyze(noise(64, 64))
	require.NoError(t, err)
	smooth, err := a.Analyze(wave(64, 64))
	require.NoError(t, err)

	assert.Greater(t, noisy, smooth)
	assert.Greater(t, noisy, 1.0)
}

func TestAnalyze_Deterministic(t *testing.T) {
	img := checkerboard(40, 30)
	a := New()

	first, err := a.Analyze(img)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := a.Analyze(img)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAnalyze_ColorAndGrayAgree(t *testing.T) {
	g := gradient(32, 32)
	rgba := image.NewRGBA(g.Bounds())
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := g.GrayAt(x, y).Y
			rgba.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	a := New()
	fromGray, err := a.Analyze(g)
	require.NoError(t, err)
	fromColor, err := a.Analyze(rgba)
	require.NoError(t, err)

	assert.InDelta(t, fromGray, fromColor, 1e-9)
}

func TestAnalyze_NonNegativeForBothStatistics(t *testing.T) {
	imgs := []image.Image{flat(10, 7, 0), checkerboard(33, 17), gradient(300, 120)}
	for _, stat := range []Statistic{HighFrequencyMean, HighFrequencyRatio} {
		a := New(WithStatistic(stat))
		for _, img := range imgs {
			score, err := a.Analyze(img)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, score, 0.0)
		}
	}
}

func TestAnalyze_DownscalesLargeFrames(t *testing.T) {
	a := New(WithMaxSide(64))
	g := a.luminance(gradient(640, 320))
	assert.Equal(t, 64, g.Bounds().Dx())
	assert.Equal(t, 32, g.Bounds().Dy())

	_, err := a.Analyze(checkerboard(640, 320))
	require.NoError(t, err)
}

func TestAnalyze_MalformedInput(t *testing.T) {
	_, err := New().Analyze(nil)
	require.ErrorIs(t, err, models.ErrAnalysis)

	_, err = New().Analyze(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.ErrorIs(t, err, models.ErrAnalysis)
}

func TestHighFrequencyRatio_Bounds(t *testing.T) {
	a := New(WithStatistic(HighFrequencyRatio))

	black, err := a.Analyze(flat(16, 16, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, black)

	cb, err := a.Analyze(checkerboard(16, 16))
	require.NoError(t, err)
	assert.Greater(t, cb, 0.0)
	assert.LessOrEqual(t, cb, 100.0)
}

func TestStatisticByName(t *testing.T) {
	for _, name := range []string{"", "hf_mean", "HF_RATIO", "high_frequency_ratio"} {
		s, err := StatisticByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}

	_, err := StatisticByName("wavelet")
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestTransform_DCIsCentred(t *testing.T) {
	sp := Transform(flat(8, 6, 10))
	assert.InDelta(t, 8*6*10, sp.At(3, 4), 1e-9)
	assert.InDelta(t, 0, sp.At(0, 0), 1e-9)
}
