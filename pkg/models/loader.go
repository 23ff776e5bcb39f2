package models

import (
	"context"
	"errors"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// Loader fetches models with retries, for serving environments where the
// backing store may be briefly unavailable at startup.
type Loader struct {
	// Fetcher is the store to fetch models from.
	Fetcher Fetcher

	// MaxAttempts is the number of times to attempt a fetch before failing.
	MaxAttempts int

	// RetryDelay is the pause between attempts. Defaults to 5 seconds.
	RetryDelay time.Duration
}

// Fetch downloads the model to destPath, retrying transient failures. A
// missing model is not retried.
func (l *Loader) Fetch(ctx context.Context, ref ModelRef, destPath string) error {
	log := klog.FromContext(ctx)

	retryDelay := l.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	attempt := 0
	for {
		attempt++

		err := l.Fetcher.Fetch(ctx, ref, destPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return err
		}

		if attempt >= l.MaxAttempts {
			return err
		}

		log.Error(err, "fetching model, will retry", "ref", ref.Key(), "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}
