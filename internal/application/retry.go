package application

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mcp-client/internal/domain"
)

// TransportFactory produces a fresh transport for one connection attempt.
// Each handshake attempt gets its own transport; a half-connected one from a
// failed attempt is never reused.
type TransportFactory func() (domain.Transport, error)

// ConnectWithRetry repeats the handshake up to the configured number of
// attempts with a fixed delay between them. The final failure carries the
// last cause.
func ConnectWithRetry(ctx context.Context, client *Client, factory TransportFactory, retry domain.RetryConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = domain.DefaultRetryAttempts
	}
	delay := retry.Delay.Duration()
	if delay <= 0 {
		delay = domain.DefaultRetryDelay
	}

	attempt := 0
	operation := func() error {
		attempt++
		transport, err := factory()
		if err != nil {
			return fmt.Errorf("transport setup failed: %w", err)
		}
		if err := client.Connect(ctx, transport); err != nil {
			logger.Warn("handshake attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err))
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1)),
		ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("connect failed after %d attempt(s): %w", attempt, err)
	}
	return nil
}
