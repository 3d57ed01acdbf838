package humanoid

import (
	"context"
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
)

// PlanPause returns a delay drawn from the bounded distribution configured
// for the given pause kind.
func (h *Humanoid) PlanPause(kind schemas.PauseKind) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch kind {
	case schemas.PauseShort:
		return h.uniform(h.cfg.PauseShortMin, h.cfg.PauseShortMax)
	case schemas.PauseAction:
		return h.uniform(h.cfg.PauseActionMin, h.cfg.PauseActionMax)
	case schemas.PauseNavigation:
		return h.uniform(h.cfg.PauseNavigationMin, h.cfg.PauseNavigationMax)
	case schemas.PauseRetry:
		return h.uniform(h.cfg.PauseRetryMin, h.cfg.PauseRetryMax)
	default:
		return h.uniform(h.cfg.PauseShortMin, h.cfg.PauseShortMax)
	}
}

// Hesitate blocks for a planned pause of the given kind, respecting context
// cancellation. It is a convenience for callers that execute plans inline.
func (h *Humanoid) Hesitate(ctx context.Context, kind schemas.PauseKind) error {
	select {
	case <-time.After(h.PlanPause(kind)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
