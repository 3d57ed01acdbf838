package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/humanoid"
	"go.uber.org/zap"
)

// findProbeTimeout bounds a single element-presence probe. Presence checks
// are polled by callers, so each probe stays short.
const findProbeTimeout = 2 * time.Second

// Driver implements schemas.PageDriver on top of a ChromeDP context.
type Driver struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	sim    *humanoid.Humanoid
	logger *zap.Logger

	// pointer tracks where the virtual cursor last landed so consecutive
	// clicks produce continuous paths.
	pointer schemas.Point
}

var _ schemas.PageDriver = (*Driver)(nil)

// run executes actions against the driver's browser context while honoring
// the caller's context for cancellation.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	merged, cancel := mergeContexts(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(merged, actions...)
}

// Navigate loads the URL and waits for the document body to be ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	d.logger.Debug("Navigating", zap.String("url", url))
	if err := d.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Find reports whether an element matching the selector exists right now.
// Absence is a normal result, never an error.
func (d *Driver) Find(ctx context.Context, selector string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, findProbeTimeout)
	defer cancel()

	var nodes []*cdp.Node
	err := d.run(probeCtx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		if probeCtx.Err() != nil && ctx.Err() == nil {
			// The probe timed out on its own budget: treat as absent.
			return false, nil
		}
		return false, fmt.Errorf("probing selector %q: %w", selector, err)
	}
	return len(nodes) > 0, nil
}

// SendKeys focuses the element and types the plan one key event at a time,
// honoring each keystroke's delay.
func (d *Driver) SendKeys(ctx context.Context, selector string, plan []schemas.Keystroke) error {
	if err := d.run(ctx, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("focusing %q: %w", selector, err)
	}

	for _, k := range plan {
		select {
		case <-time.After(k.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := d.run(ctx, chromedp.KeyEvent(string(k.Rune))); err != nil {
			return fmt.Errorf("typing into %q: %w", selector, err)
		}
	}
	return nil
}

// Click clicks the first element matching the selector. With a simulator
// attached the cursor travels a planned humanized path to the element's
// center before the press; otherwise it falls back to a plain click.
func (d *Driver) Click(ctx context.Context, selector string) error {
	if d.sim != nil {
		err := d.humanClick(ctx, selector)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		d.logger.Debug("Humanized click failed, falling back to direct click",
			zap.String("selector", selector), zap.Error(err))
	}

	if err := d.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// humanClick moves the cursor along a planned path and clicks at the
// element's center with low-level mouse events.
func (d *Driver) humanClick(ctx context.Context, selector string) error {
	center, err := d.elementCenter(ctx, selector)
	if err != nil {
		return err
	}

	for _, step := range d.sim.PlanPointerPath(d.pointer, center) {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := d.run(ctx, chromedp.MouseEvent(input.MouseMoved, step.X, step.Y)); err != nil {
			return fmt.Errorf("moving pointer: %w", err)
		}
	}
	d.pointer = center

	if err := d.run(ctx, chromedp.MouseClickXY(center.X, center.Y)); err != nil {
		return fmt.Errorf("clicking at (%.0f, %.0f): %w", center.X, center.Y, err)
	}
	return nil
}

// elementCenter resolves the viewport center of the first element matching
// the selector.
func (d *Driver) elementCenter(ctx context.Context, selector string) (schemas.Point, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return [r.x + r.width / 2, r.y + r.height / 2];
	})()`, selector)

	var box []float64
	if err := d.run(ctx, chromedp.Evaluate(script, &box)); err != nil {
		return schemas.Point{}, fmt.Errorf("locating %q: %w", selector, err)
	}
	if len(box) != 2 {
		return schemas.Point{}, fmt.Errorf("element %q not found or has no box", selector)
	}
	return schemas.Point{X: box[0], Y: box[1]}, nil
}

// Cookies returns the browser's full cookie set mapped to artifact entries.
func (d *Driver) Cookies(ctx context.Context) ([]schemas.CookieEntry, error) {
	var raw []*network.Cookie
	err := d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	entries := make([]schemas.CookieEntry, 0, len(raw))
	for _, c := range raw {
		entries = append(entries, cookieEntry(c))
	}
	return entries, nil
}

// cookieEntry maps a DevTools cookie to an artifact entry.
func cookieEntry(c *network.Cookie) schemas.CookieEntry {
	entry := schemas.CookieEntry{
		Domain:   c.Domain,
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	// DevTools reports -1 for session cookies; keep those zero-valued.
	if c.Expires > 0 {
		entry.Expiry = time.Unix(int64(c.Expires), 0).UTC()
	}
	return entry
}

// SetCookies injects entries into the browser, typically before navigating
// to restore a stored session.
func (d *Driver) SetCookies(ctx context.Context, entries []schemas.CookieEntry) error {
	return d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		for _, e := range entries {
			param := network.SetCookie(e.Name, e.Value).
				WithDomain(e.Domain).
				WithPath(e.Path).
				WithSecure(e.Secure).
				WithHTTPOnly(e.HTTPOnly)
			if !e.Expiry.IsZero() {
				epoch := cdp.TimeSinceEpoch(e.Expiry)
				param = param.WithExpires(&epoch)
			}
			if err := param.Do(c); err != nil {
				return fmt.Errorf("setting cookie %q: %w", e.Name, err)
			}
		}
		return nil
	}))
}

// CurrentURL returns the URL of the active document.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := d.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading current location: %w", err)
	}
	return loc, nil
}

// Close releases the driver's browser context.
func (d *Driver) Close() {
	d.cancel()
}

// mergeContexts derives a context from the browser context that is also
// canceled when the caller's context is. ChromeDP actions must run on a
// context derived from the browser context, but callers still need their
// deadlines respected.
func mergeContexts(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
