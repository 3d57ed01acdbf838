// Package schemas defines the shared types exchanged between the transport
// gate, the artifact store, the login state machine and the session
// controller. Keeping them here avoids import cycles between internal
// packages.
package schemas

import (
	"context"
	"time"
)

// CurrentArtifactSchemaVersion is bumped whenever the on-disk artifact
// layout changes in a way old readers cannot safely interpret.
const CurrentArtifactSchemaVersion = 1

// Credentials holds the secrets for one account identity. The struct is
// treated as immutable after construction and must never appear in logs or
// error messages; components log the identity string only.
type Credentials struct {
	// Identifier is the primary login identifier (email or username).
	Identifier string
	// Password is the account secret.
	Password string
	// Username is the secondary identifier some checkpoint challenges ask
	// for ("enter your username to confirm it's you"). Optional.
	Username string
	// TwoFactorSeed is the base32 TOTP seed for non-interactive two-factor
	// entry. Empty means two-factor codes must be supplied manually.
	TwoFactorSeed string
}

// CookieEntry is one transport-level state entry inside a SessionArtifact.
type CookieEntry struct {
	Domain   string    `json:"domain"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expiry   time.Time `json:"expiry"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// Session indicates whether the entry is a session cookie, i.e. carries no
// expiry of its own.
func (c CookieEntry) Session() bool { return c.Expiry.IsZero() }

// SessionArtifact is the serialized proof of authentication for one account
// identity. It is owned exclusively by the artifact store; no other
// component writes it.
type SessionArtifact struct {
	Identity      string        `json:"identity"`
	Entries       []CookieEntry `json:"entries"`
	SchemaVersion int           `json:"schema_version"`
	CreatedAt     time.Time     `json:"created_at"`
}

// TransportStatus describes the anonymizing transport lifecycle. Only the
// readiness gate transitions it; everyone else reads it.
type TransportStatus int

const (
	TransportNotStarted TransportStatus = iota
	TransportStarting
	TransportReady
	TransportDegraded
	TransportFailed
)

func (s TransportStatus) String() string {
	switch s {
	case TransportNotStarted:
		return "not_started"
	case TransportStarting:
		return "starting"
	case TransportReady:
		return "ready"
	case TransportDegraded:
		return "degraded"
	case TransportFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Keystroke is one planned key event: the rune to type and how long to wait
// before typing it.
type Keystroke struct {
	Rune  rune
	Delay time.Duration
}

// PointerStep is one intermediate point on a planned pointer path.
type PointerStep struct {
	X     float64
	Y     float64
	Delay time.Duration
}

// Point is a 2D viewport coordinate.
type Point struct {
	X float64
	Y float64
}

// PauseKind selects the bounded distribution a planned pause is drawn from.
type PauseKind int

const (
	// PauseShort is a sub-second beat, e.g. after clearing an input.
	PauseShort PauseKind = iota
	// PauseAction precedes a click or submit.
	PauseAction
	// PauseNavigation follows a page load or form submission.
	PauseNavigation
	// PauseRetry spaces out retries of a failed login stage.
	PauseRetry
)

// PageDriver is the capability set the core needs from the browser-driving
// collaborator. It deliberately excludes browser lifecycle management; the
// caller owns that.
type PageDriver interface {
	// Navigate loads the given URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Find reports whether an element matching the selector currently
	// exists in the page. Absence is not an error.
	Find(ctx context.Context, selector string) (bool, error)
	// SendKeys types text into the element matching selector, honoring the
	// per-keystroke delays of the plan.
	SendKeys(ctx context.Context, selector string, plan []Keystroke) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// Cookies returns the browser's current cookie set.
	Cookies(ctx context.Context) ([]CookieEntry, error)
	// SetCookies injects cookies into the browser before navigation.
	SetCookies(ctx context.Context, entries []CookieEntry) error
	// CurrentURL returns the URL of the active document.
	CurrentURL(ctx context.Context) (string, error)
}
