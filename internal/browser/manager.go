// Package browser drives a real Chromium instance over the DevTools
// protocol and exposes it to the core through the schemas.PageDriver
// capability set. All outbound traffic is forced through the anonymizing
// transport's SOCKS listener.
package browser

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/chromedp/chromedp"
	"github.com/posaune0423/tor-selenium-x/internal/browser/stealth"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/humanoid"
	"go.uber.org/zap"
)

// Manager owns the browser process via the ChromeDP exec allocator and
// hands out drivers bound to isolated browser contexts.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
}

// NewManager creates and initializes the browser manager. The browser
// executable is started lazily on the first driver request.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Int("socks_port", cfg.Transport.SocksPort))
	return m
}

// allocatorOptions configures the flags for the browser executable.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser

	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// Automation detection evasion.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability in containerized environments.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", browserCfg.Headless),

		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
	)

	if browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(browserCfg.UserAgent))
	}

	// Every connection the browser makes goes through the overlay's SOCKS
	// listener. Proxy-side DNS keeps lookups off the local resolver.
	socksAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(m.cfg.Transport.SocksPort))
	opts = append(opts, chromedp.ProxyServer("socks5://"+socksAddr))

	for _, arg := range browserCfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	return opts
}

// NewDriver creates a driver bound to a fresh, isolated browser context
// with the stealth evasions installed. The simulator, when non-nil, gives
// the driver humanized pointer movement.
func (m *Manager) NewDriver(ctx context.Context, sim *humanoid.Humanoid) (*Driver, error) {
	taskCtx, taskCancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			m.logger.Sugar().Debugf(format, args...)
		}))

	if err := stealth.Apply(taskCtx); err != nil {
		taskCancel()
		return nil, fmt.Errorf("applying stealth evasions: %w", err)
	}

	return &Driver{
		ctx:    taskCtx,
		cancel: taskCancel,
		cfg:    m.cfg.Browser,
		sim:    sim,
		logger: m.logger.Named("driver"),
	}, nil
}

// Close shuts down the browser process and all derived contexts.
func (m *Manager) Close() {
	m.allocatorCancel()
	m.logger.Info("Browser manager shut down")
}
