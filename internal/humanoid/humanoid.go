// Package humanoid plans human-like timing and pathing for UI actions.
// It is purely a planning component: it returns keystroke, pointer and
// pause plans but never touches the browser itself, which keeps timing
// policy testable without a live page.
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"go.uber.org/zap"
)

// Humanoid produces bounded-random interaction plans. All methods are safe
// for concurrent use; the RNG and noise state are guarded by mu.
type Humanoid struct {
	mu     sync.Mutex
	cfg    config.HumanoidConfig
	logger *zap.Logger
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	// noiseTime advances with every planned pointer path so consecutive
	// paths do not repeat the same drift.
	noiseTime float64
}

// New creates a Humanoid from configuration. A zero seed falls back to the
// clock; a fixed seed makes every plan reproducible.
func New(cfg config.HumanoidConfig, logger *zap.Logger) *Humanoid {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	normalize(&cfg)

	// Standard Perlin noise parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)

	return &Humanoid{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// NewTestHumanoid creates a deterministic instance for tests.
func NewTestHumanoid(seed int64) *Humanoid {
	cfg := config.HumanoidConfig{Seed: seed}
	normalize(&cfg)
	return New(cfg, zap.NewNop())
}

// normalize fills in zero values with usable bounds so a partially
// populated config cannot produce degenerate plans.
func normalize(cfg *config.HumanoidConfig) {
	if cfg.KeystrokeMean <= 0 {
		cfg.KeystrokeMean = 100 * time.Millisecond
	}
	if cfg.KeystrokeStddev <= 0 {
		cfg.KeystrokeStddev = 40 * time.Millisecond
	}
	if cfg.KeystrokeMin <= 0 {
		cfg.KeystrokeMin = 30 * time.Millisecond
	}
	if cfg.KeystrokeMax <= cfg.KeystrokeMin {
		cfg.KeystrokeMax = cfg.KeystrokeMin + 320*time.Millisecond
	}
	if cfg.PointerStepInterval <= 0 {
		cfg.PointerStepInterval = 8 * time.Millisecond
	}
	if cfg.PointerDriftPx <= 0 {
		cfg.PointerDriftPx = 2.5
	}
	if cfg.PauseShortMax <= cfg.PauseShortMin || cfg.PauseShortMin <= 0 {
		cfg.PauseShortMin, cfg.PauseShortMax = 500*time.Millisecond, 1500*time.Millisecond
	}
	if cfg.PauseActionMax <= cfg.PauseActionMin || cfg.PauseActionMin <= 0 {
		cfg.PauseActionMin, cfg.PauseActionMax = 100*time.Millisecond, 300*time.Millisecond
	}
	if cfg.PauseNavigationMax <= cfg.PauseNavigationMin || cfg.PauseNavigationMin <= 0 {
		cfg.PauseNavigationMin, cfg.PauseNavigationMax = 2*time.Second, 4*time.Second
	}
	if cfg.PauseRetryMax <= cfg.PauseRetryMin || cfg.PauseRetryMin <= 0 {
		cfg.PauseRetryMin, cfg.PauseRetryMax = 2*time.Second, 5*time.Second
	}
}

// truncNorm draws from a normal distribution truncated to [min, max].
// The caller must hold h.mu.
func (h *Humanoid) truncNorm(mean, stddev, min, max time.Duration) time.Duration {
	d := time.Duration(h.rng.NormFloat64()*float64(stddev)) + mean
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}

// uniform draws uniformly from [min, max]. The caller must hold h.mu.
func (h *Humanoid) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(h.rng.Int63n(int64(max-min)+1))
}
