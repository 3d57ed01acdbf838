// Package stealth installs fingerprint evasions into a browser context
// before any page script runs.
package stealth

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// EvasionsJS holds the embedded JavaScript used for automation-signature
// evasion. It is evaluated on every new document, ahead of page scripts.
//
//go:embed evasions.js
var EvasionsJS string

// Apply registers the evasion script with the browser context so every
// subsequently loaded document gets it first.
func Apply(ctx context.Context) error {
	if EvasionsJS == "" {
		return fmt.Errorf("embedded evasions script is empty")
	}

	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(EvasionsJS).Do(c)
		return err
	}))
}
