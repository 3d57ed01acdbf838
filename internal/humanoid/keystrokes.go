package humanoid

import (
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"go.uber.org/zap"
)

// burstBreakChance is the probability of a longer "thinking" gap between
// two keystrokes, modeling the pauses real typists take between bursts.
const burstBreakChance = 0.04

// PlanKeystrokes returns a per-character typing plan for text. Each delay
// is the wait before the corresponding key event; the first keystroke gets
// a short lead-in rather than firing instantly.
func (h *Humanoid) PlanKeystrokes(text string) []schemas.Keystroke {
	if text == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := h.cfg
	runes := []rune(text)
	plan := make([]schemas.Keystroke, 0, len(runes))

	for i, r := range runes {
		delay := h.truncNorm(cfg.KeystrokeMean, cfg.KeystrokeStddev, cfg.KeystrokeMin, cfg.KeystrokeMax)

		// Occasional burst break, scaled off the max so it stays bounded.
		if i > 0 && h.rng.Float64() < burstBreakChance {
			delay += h.uniform(cfg.KeystrokeMax, 3*cfg.KeystrokeMax)
		}

		plan = append(plan, schemas.Keystroke{Rune: r, Delay: delay})
	}

	h.logger.Debug("Planned keystrokes",
		zap.Int("chars", len(plan)),
		zap.Duration("total", planDuration(plan)))
	return plan
}

func planDuration(plan []schemas.Keystroke) time.Duration {
	var total time.Duration
	for _, k := range plan {
		total += k.Delay
	}
	return total
}
