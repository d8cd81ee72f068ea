package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/peerlink/internal/domain"
)

// ─── Dial Retry ─────────────────────────────────────────────────────────────
// A peer may start before its lobby. Failed dials are retried with
// exponential backoff; a rejected handshake is never retried.

// RetryConfig configures DialWithRetry.
type RetryConfig struct {
	MaxRetries int           // Retries after the first attempt; 0 dials once
	BaseDelay  time.Duration // Delay before the first retry (doubles each retry)
	MaxDelay   time.Duration // Cap on backoff delay
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// Delay returns the backoff before retry number attempt (1-based).
func (rc RetryConfig) Delay(attempt int) time.Duration {
	delay := rc.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if rc.MaxDelay > 0 && delay > rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		return rc.MaxDelay
	}
	return delay
}

// DialWithRetry calls Dial until it succeeds, the retries run out or
// ctx is done.
func DialWithRetry(ctx context.Context, cfg ClientConfig, rc RetryConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for attempt := 0; ; attempt++ {
		c, err := Dial(ctx, cfg, logger)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, domain.ErrPeerIDInUse) || attempt >= rc.MaxRetries {
			return nil, err
		}

		delay := rc.Delay(attempt + 1)
		logger.Warn("lobby dial failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial lobby %s: %w", cfg.URL, ctx.Err())
		case <-timer.C:
		}
	}
}
