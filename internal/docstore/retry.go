package docstore

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// retryTransient retries op up to 3 additional times with exponential
// backoff when it fails with a TRANSIENT-classified error, matching
// the queue's own RELEASE-with-retry treatment of storage errors
// (spec §7) one layer down: a transient blip inside a single
// conditional update is worth a few milliseconds of local retry before
// bouncing the whole item back through the queue.
func retryTransient(ctx context.Context, op func(ctx context.Context) error) error {
	base, err := retry.NewExponential(20 * time.Millisecond)
	if err != nil {
		return err
	}
	backoff := retry.WithMaxRetries(3, base)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if KindOf(err) == KindTransient {
			return retry.RetryableError(err)
		}
		return err
	})
}
