package pipeline

import (
	"context"
	"time"
)

// maxBackoff caps a single wait between attempts.
const maxBackoff = 30 * time.Second

// backoffDelay returns base * 2^attempt, capped at maxBackoff. attempt is zero-based.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// retry calls fn up to attempts times, sleeping with exponential backoff between
// attempts while retryable(err) holds. It returns the last error and the number of
// calls made.
func retry(ctx context.Context, attempts int, base time.Duration, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return i + 1, nil
		}
		if i == attempts-1 || !retryable(err) || ctx.Err() != nil {
			return i + 1, err
		}
		if sleepErr := sleep(ctx, backoffDelay(base, i)); sleepErr != nil {
			return i + 1, err
		}
	}
	return attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func always(error) bool { return true }
