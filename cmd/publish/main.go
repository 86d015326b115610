package main

import (
	"context"
	"fmt"
	"os"

	"github.com/romariotrain/media-forensics/internal/app"
	"github.com/romariotrain/media-forensics/internal/config"
	"github.com/romariotrain/media-forensics/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	code := app.Run("publish", logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	os.Exit(code)
}
