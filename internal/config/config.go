// Package config loads service settings from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Empty DatabaseURL keeps reports in memory.
	DatabaseURL  string `validate:"omitempty,url"`
	HTTPAddr     string `validate:"required"`
	StorageDir   string `validate:"required"`
	MaxUploadMB  int    `validate:"min=1,max=4096"`
	AllowOrigins []string

	// Uploads per minute per client IP, 0 disables the limit.
	UploadRateLimit int `validate:"min=0"`

	ClassifierURL         string        `validate:"required,url"`
	ClassifierTimeout     time.Duration `validate:"gt=0"`
	ClassifierConcurrency int           `validate:"min=1"`

	FrameBudget  int `validate:"min=1,max=120"`
	FrameWorkers int `validate:"min=1"`

	ScanWorkers         int           `validate:"min=1"`
	ScanQueueSize       int           `validate:"min=1"`
	ScanTimeoutBase     time.Duration `validate:"gt=0"`
	ScanTimeoutPerFrame time.Duration `validate:"gt=0"`
	ScanStaleAfter      time.Duration `validate:"gt=0"`
	WatchdogInterval    time.Duration `validate:"gt=0"`

	VerdictHighThreshold float64 `validate:"gt=0,lte=100"`
	VerdictLowThreshold  float64 `validate:"gte=0,ltfield=VerdictHighThreshold"`
	SpectralStatistic    string  `validate:"oneof=hf_mean hf_ratio high_frequency_mean high_frequency_ratio"`

	// Empty FaceCascadePath analyses frames whole.
	FaceCascadePath string  `validate:"omitempty,file"`
	FaceCropPadding float64 `validate:"gte=0,lte=1"`

	FFmpegPath  string `validate:"required"`
	FFprobePath string `validate:"required"`

	KafkaBrokers    []string
	KafkaTopic      string        `validate:"required"`
	OutboxInterval  time.Duration `validate:"gt=0"`
	OutboxBatchSize int           `validate:"min=1"`

	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogFormat string `validate:"oneof=json console"`
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() (*Config, error) {
	_ = godotenv.Load()

	var env envParser
	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8000"),
		StorageDir:   getEnv("STORAGE_DIR", "./data"),
		MaxUploadMB:  env.asInt("MAX_UPLOAD_MB", 500),
		AllowOrigins: getEnvAsList("CORS_ALLOW_ORIGINS", []string{"*"}),

		UploadRateLimit: env.asInt("UPLOAD_RATE_LIMIT", 30),

		ClassifierURL:         getEnv("CLASSIFIER_URL", "http://localhost:8500"),
		ClassifierTimeout:     env.asDuration("CLASSIFIER_TIMEOUT", 30*time.Second),
		ClassifierConcurrency: env.asInt("CLASSIFIER_CONCURRENCY", 4),

		FrameBudget:  env.asInt("FRAME_BUDGET", 20),
		FrameWorkers: env.asInt("FRAME_WORKERS", 4),

		ScanWorkers:         env.asInt("SCAN_WORKERS", 2),
		ScanQueueSize:       env.asInt("SCAN_QUEUE_SIZE", 64),
		ScanTimeoutBase:     env.asDuration("SCAN_TIMEOUT_BASE", 30*time.Second),
		ScanTimeoutPerFrame: env.asDuration("SCAN_TIMEOUT_PER_FRAME", 5*time.Second),
		ScanStaleAfter:      env.asDuration("SCAN_STALE_AFTER", 30*time.Minute),
		WatchdogInterval:    env.asDuration("WATCHDOG_INTERVAL", time.Minute),

		VerdictHighThreshold: env.asFloat("VERDICT_HIGH_THRESHOLD", 70),
		VerdictLowThreshold:  env.asFloat("VERDICT_LOW_THRESHOLD", 30),
		SpectralStatistic:    strings.ToLower(getEnv("SPECTRAL_STATISTIC", "hf_mean")),

		FaceCascadePath: getEnv("FACE_CASCADE_PATH", ""),
		FaceCropPadding: env.asFloat("FACE_CROP_PADDING", 0.15),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "scan-events"),
		OutboxInterval:  env.asDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatchSize: env.asInt("OUTBOX_BATCH_SIZE", 100),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// envParser reads typed values and collects every malformed one, so a
// typo fails Load instead of silently falling back to the default.
type envParser struct {
	errs []error
}

func (p *envParser) lookup(key string) (string, bool) {
	value := strings.TrimSpace(getEnv(key, ""))
	return value, value != ""
}

func (p *envParser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *envParser) asInt(key string, defaultValue int) int {
	raw, ok := p.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, errors.New("not an integer"))
		return defaultValue
	}
	return value
}

func (p *envParser) asFloat(key string, defaultValue float64) float64 {
	raw, ok := p.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, errors.New("not a number"))
		return defaultValue
	}
	return value
}

func (p *envParser) asDuration(key string, defaultValue time.Duration) time.Duration {
	raw, ok := p.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, errors.New("not a duration"))
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
