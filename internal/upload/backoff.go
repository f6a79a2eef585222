package upload

import (
	"context"
	"math/rand/v2"
	"time"
)

// Delays between attempts of one chunk: 1s, 2s, 4s and so on up to 30s,
// each spread by up to a quarter either way so parallel uploads that failed
// together do not retry together.
const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
	retryJitter    = 0.25
)

// calcBackoff returns the wait before retry number retry (zero-based).
func calcBackoff(retry int) time.Duration {
	d := retryMaxDelay
	if retry < 5 {
		d = min(retryBaseDelay<<retry, retryMaxDelay)
	}

	spread := (rand.Float64()*2 - 1) * retryJitter //nolint:gosec // jitter only

	return d + time.Duration(float64(d)*spread)
}

// timeSleep blocks for d unless ctx ends first.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
