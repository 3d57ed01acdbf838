// Package controller is the restore-or-login façade over the transport
// gate, the artifact store, the browser driver and the login machine. A
// caller asks it for an authenticated session and does not care whether
// that session was restored from disk or established interactively.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/login"
	"github.com/posaune0423/tor-selenium-x/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrTransportUnavailable means the anonymizing transport could not
	// reach the Ready state. Degraded is not good enough: live page
	// interaction over unverified egress would leak the real address.
	ErrTransportUnavailable = errors.New("anonymizing transport unavailable")

	// ErrIdentityBusy means a session attempt for the same identity is
	// already in progress.
	ErrIdentityBusy = errors.New("session attempt already in progress for identity")
)

// TransportGate is the readiness surface the controller depends on.
type TransportGate interface {
	EnsureReady(ctx context.Context) (schemas.TransportStatus, error)
	Status() schemas.TransportStatus
}

// ArtifactStore persists and retrieves per-identity session artifacts.
type ArtifactStore interface {
	Load(identity string) (*schemas.SessionArtifact, error)
	Save(identity string, artifact *schemas.SessionArtifact) error
	Invalidate(identity string) error
}

// LoginRunner executes interactive login attempts.
type LoginRunner interface {
	Run(ctx context.Context, creds schemas.Credentials) error
	SubmitTwoFactorCode(code string) bool
}

// Session is the handle returned for an authenticated browser session.
type Session struct {
	Identity      string
	Restored      bool
	EstablishedAt time.Time
	Driver        schemas.PageDriver
}

// Controller composes the gate, store, driver and login machine into the
// single ObtainSession operation. Safe for concurrent use; concurrent
// attempts for the same identity are rejected rather than queued.
type Controller struct {
	gate    TransportGate
	store   ArtifactStore
	driver  schemas.PageDriver
	machine LoginRunner
	cfg     config.LoginConfig
	log     *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New wires a controller from its collaborators.
func New(gate TransportGate, artifacts ArtifactStore, driver schemas.PageDriver, machine LoginRunner, cfg config.LoginConfig, logger *zap.Logger) *Controller {
	return &Controller{
		gate:     gate,
		store:    artifacts,
		driver:   driver,
		machine:  machine,
		cfg:      cfg,
		log:      logger.Named("controller"),
		inFlight: make(map[string]struct{}),
	}
}

// ObtainSession returns an authenticated session for the credentials'
// identity: restored from a stored artifact when one validates, otherwise
// established through a single interactive login attempt. With force set
// the stored artifact is invalidated and restore skipped entirely. There
// is never more than one login attempt per call; a rejected login is
// surfaced to the caller, not retried.
//
// Storage failures always propagate. When only persisting the fresh
// artifact fails, the live session is returned together with the error so
// the caller can keep working while surfacing the broken store.
func (c *Controller) ObtainSession(ctx context.Context, creds schemas.Credentials, force bool) (*Session, error) {
	identity := creds.Identifier

	if err := c.claim(identity); err != nil {
		return nil, err
	}
	defer c.release(identity)

	status, err := c.gate.EnsureReady(ctx)
	if err != nil || status != schemas.TransportReady {
		c.log.Error("Transport did not reach ready state",
			zap.String("status", status.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: status %s: %v", ErrTransportUnavailable, status, err)
	}

	if force {
		c.log.Info("Forced re-authentication, discarding stored artifact",
			zap.String("identity", identity))
		if err := c.store.Invalidate(identity); err != nil {
			return nil, fmt.Errorf("invalidating session artifact: %w", err)
		}
	} else {
		session, ok, err := c.tryRestore(ctx, identity)
		if err != nil {
			return nil, err
		}
		if ok {
			return session, nil
		}
	}

	return c.loginFresh(ctx, creds)
}

// SubmitTwoFactorCode forwards a manually obtained verification code to a
// login attempt waiting in its two-factor window.
func (c *Controller) SubmitTwoFactorCode(code string) bool {
	return c.machine.SubmitTwoFactorCode(code)
}

// tryRestore attempts to resurrect a stored session: inject the artifact's
// cookies, load the main view and verify the authenticated markers. A
// rejected or absent artifact falls through to a clean login; a genuine
// storage failure is returned, never masked by a fresh login.
func (c *Controller) tryRestore(ctx context.Context, identity string) (*Session, bool, error) {
	log := c.log.With(zap.String("identity", identity))

	artifact, err := c.store.Load(identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		// A broken data directory must reach the caller; silently paying
		// a live login on every run would hide it indefinitely.
		return nil, false, fmt.Errorf("loading session artifact: %w", err)
	}

	if err := c.driver.SetCookies(ctx, artifact.Entries); err != nil {
		log.Warn("Injecting restored cookies failed", zap.Error(err))
		return nil, false, nil
	}
	if err := c.driver.Navigate(ctx, c.cfg.HomeURL); err != nil {
		log.Warn("Navigating with restored cookies failed", zap.Error(err))
		return nil, false, nil
	}

	ok, err := login.Authenticated(ctx, c.driver, c.cfg.MarkerPollInterval, c.cfg.StageTimeout)
	if err != nil {
		log.Warn("Verifying restored session failed", zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		// The artifact validated structurally but the site no longer
		// honors it. Drop it so the next call goes straight to login.
		log.Info("Restored session rejected by site, invalidating artifact")
		if err := c.store.Invalidate(identity); err != nil {
			return nil, false, fmt.Errorf("invalidating stale artifact: %w", err)
		}
		return nil, false, nil
	}

	log.Info("Session restored from artifact",
		zap.Int("entries", len(artifact.Entries)))
	return &Session{
		Identity:      identity,
		Restored:      true,
		EstablishedAt: time.Now(),
		Driver:        c.driver,
	}, true, nil
}

// loginFresh runs the single interactive login attempt and persists the
// resulting cookie set.
func (c *Controller) loginFresh(ctx context.Context, creds schemas.Credentials) (*Session, error) {
	identity := creds.Identifier
	log := c.log.With(zap.String("identity", identity))

	if err := c.machine.Run(ctx, creds); err != nil {
		return nil, err
	}

	session := &Session{
		Identity:      identity,
		EstablishedAt: time.Now(),
		Driver:        c.driver,
	}

	entries, err := c.driver.Cookies(ctx)
	if err != nil {
		// A browser-side extraction failure leaves the session live and
		// simply unpersisted; the next run pays for a fresh login.
		log.Warn("Extracting cookies after login failed", zap.Error(err))
		return session, nil
	}
	if err := c.store.Save(identity, &schemas.SessionArtifact{Entries: entries}); err != nil {
		// Storage failures propagate alongside the live session.
		return session, fmt.Errorf("persisting session artifact: %w", err)
	}

	log.Info("Session established via interactive login",
		zap.Int("entries", len(entries)))
	return session, nil
}

func (c *Controller) claim(identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[identity]; busy {
		return fmt.Errorf("%w: %q", ErrIdentityBusy, identity)
	}
	c.inFlight[identity] = struct{}{}
	return nil
}

func (c *Controller) release(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, identity)
}
