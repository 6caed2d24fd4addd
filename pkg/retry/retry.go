// Package retry re-runs collaborator calls with exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// ShouldRetry decides whether a failed attempt is worth repeating. Nil
	// retries every error.
	ShouldRetry func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)
	Logger  *zap.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Do runs operation until it succeeds, returns an error ShouldRetry rejects,
// runs out of attempts or ctx is done. The last operation error is returned,
// except that a cancelled wait returns ctx.Err().
func Do(ctx context.Context, cfg Config, operation func() error) error {
	cfg = cfg.withDefaults()
	b := backoff{next: cfg.InitialDelay, max: cfg.MaxDelay, factor: cfg.Multiplier, jitter: cfg.JitterFraction}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Info("Call succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		if attempt >= cfg.MaxAttempts || (cfg.ShouldRetry != nil && !cfg.ShouldRetry(err)) || ctx.Err() != nil {
			return err
		}

		delay := b.step()
		cfg.Logger.Warn("Call failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type backoff struct {
	next   time.Duration
	max    time.Duration
	factor float64
	jitter float64
}

// step returns the jittered current delay and grows the next one, capped at
// max.
func (b *backoff) step() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.factor)
	if grown > b.max || grown <= 0 {
		grown = b.max
	}
	b.next = grown

	if b.jitter <= 0 {
		return d
	}
	spread := float64(d) * b.jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
