package probe

import (
	"context"
	"math/rand"
	"time"
)

// TestMode is the Prober substituted in when HUNTER_TEST_MODE is set (spec
// §4.5/§8 "happy path, test mode": synthetic latencies in [50, 300]ms so the
// pipeline can be exercised end to end without real engine binaries or
// network access).
type TestMode struct {
	rng *rand.Rand
}

// NewTestMode builds a deterministic test-mode prober seeded by nonce, so a
// single cycle's synthetic probes are reproducible.
func NewTestMode(nonce int64) *TestMode {
	return &TestMode{rng: rand.New(rand.NewSource(nonce))}
}

func (t *TestMode) Probe(ctx context.Context, listenPort int, testURL string, timeout time.Duration) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return 50 + t.rng.Intn(251), nil // uniform in [50, 300]
}
