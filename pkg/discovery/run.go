package discovery

import (
	"context"
	"time"
)

// CorpusSource supplies a stable slice of historical message text.
// The engine never mutates the returned slice and reads it fully
// before the next cycle, so implementations may hand out a snapshot
// and reuse their buffer afterwards.
type CorpusSource func(ctx context.Context) ([]string, error)

// Run mines and promotes on a fixed interval until ctx is canceled.
// A failed cycle is logged and skipped; the live store is only ever
// touched by a successful, validated promotion.
func (e *Engine) Run(ctx context.Context, interval time.Duration, source CorpusSource) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			corpus, err := source(ctx)
			if err != nil {
				e.logger.Error("corpus load failed", "error", err)
				continue
			}
			cands := e.Discover(corpus)
			if len(cands) == 0 {
				continue
			}
			if err := e.Promote(cands); err != nil {
				e.logger.Error("promotion failed", "error", err)
			}
		}
	}
}
