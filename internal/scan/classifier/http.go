package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/romariotrain/media-forensics/internal/metrics"
	"github.com/romariotrain/media-forensics/internal/scan/models"
)

const breakerName = "classifier"

type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPScorer calls an inference service that accepts JPEG frames as
// multipart "file" parts on POST /predict and answers
// {"probabilities": [...]} in upload order.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[[]float64]
	logger  zerolog.Logger
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

func NewHTTPScorer(cfg HTTPConfig) (*HTTPScorer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("classifier base url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger.With().Str("component", "http_classifier").Logger()

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A scan timing out or being canceled says nothing about the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("classifier circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &HTTPScorer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		cb:      cb,
		logger:  logger,
	}, nil
}

func (s *HTTPScorer) Score(ctx context.Context, img image.Image) (float64, error) {
	out, err := s.ScoreBatch(ctx, []image.Image{img})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (s *HTTPScorer) ScoreBatch(ctx context.Context, imgs []image.Image) ([]float64, error) {
	if len(imgs) == 0 {
		return nil, nil
	}

	start := time.Now()
	probs, err := s.cb.Execute(func() ([]float64, error) {
		return s.predict(ctx, imgs)
	})
	metrics.ClassifierDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ClassifierRequests.WithLabelValues("rejected").Inc()
		default:
			metrics.ClassifierRequests.WithLabelValues("failure").Inc()
		}
		if errors.Is(err, models.ErrScoring) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrScoring, err)
	}

	metrics.ClassifierRequests.WithLabelValues("success").Inc()
	return probs, nil
}

func (s *HTTPScorer) predict(ctx context.Context, imgs []image.Image) ([]float64, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for i, img := range imgs {
		part, err := writer.CreateFormFile("file", fmt.Sprintf("frame_%04d.jpg", i))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if err := jpeg.Encode(part, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/predict", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(out.Probabilities) != len(imgs) {
		return nil, fmt.Errorf("%w: classifier returned %d probabilities for %d frames",
			models.ErrScoring, len(out.Probabilities), len(imgs))
	}
	for i, p := range out.Probabilities {
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	s.logger.Debug().Int("frames", len(imgs)).Msg("classifier batch scored")
	return out.Probabilities, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
