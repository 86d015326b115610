// Package app runs a service until it fails or the process is signalled.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

type Runner func(ctx context.Context) error

// shutdownGrace bounds how long a runner may take to return after a signal.
const shutdownGrace = 15 * time.Second

func Run(serviceName string, logger zerolog.Logger, run Runner) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runContext(ctx, serviceName, logger, run)
}

func runContext(ctx context.Context, serviceName string, logger zerolog.Logger, run Runner) int {
	log := logger.With().Str("service", serviceName).Logger()
	log.Info().Msg("starting")

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("stopped with error")
				return 1
			}
		case <-time.After(shutdownGrace):
			log.Warn().Dur("grace", shutdownGrace).Msg("shutdown grace period exceeded")
			return 1
		}
		log.Info().Msg("stopped")
		return 0

	case err := <-errCh:
		if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			log.Error().Err(err).Msg("failed")
			return 1
		}
		log.Info().Msg("stopped")
		return 0
	}
}
