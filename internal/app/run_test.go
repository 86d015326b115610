package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunContext_RunnerResult(t *testing.T) {
	ok := runContext(context.Background(), "scan", zerolog.Nop(), func(context.Context) error { return nil })
	assert.Equal(t, 0, ok)

	failed := runContext(context.Background(), "scan", zerolog.Nop(), func(context.Context) error {
		return errors.New("listen tcp :8000: address already in use")
	})
	assert.Equal(t, 1, failed)
}

func TestRunContext_CancelWaitsForRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	returned := false

	code := runContext(ctx, "scan", zerolog.Nop(), func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		returned = true
		return ctx.Err()
	})

	assert.Equal(t, 0, code)
	assert.True(t, returned)
}
