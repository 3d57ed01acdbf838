// Package login drives the multi-stage authentication flow against a live
// browser session. The flow is a tagged state machine with conditional
// branches — the target site may insert or skip a checkpoint challenge and
// a two-factor prompt — guarded by runtime page inspection rather than a
// fixed linear script.
package login

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/humanoid"
	"go.uber.org/zap"
)

// Machine executes login attempts. It uses the humanoid simulator for all
// pacing and the page driver for all browser interaction; it never
// persists anything itself. One attempt at a time.
type Machine struct {
	driver schemas.PageDriver
	sim    *humanoid.Humanoid
	cfg    config.LoginConfig
	log    *zap.Logger

	running atomic.Bool
	// codeCh receives manually entered two-factor codes while an attempt
	// is suspended in the entry window.
	codeCh chan string
}

// New creates a login machine bound to one page driver.
func New(driver schemas.PageDriver, sim *humanoid.Humanoid, cfg config.LoginConfig, logger *zap.Logger) *Machine {
	return &Machine{
		driver: driver,
		sim:    sim,
		cfg:    cfg,
		log:    logger.Named("login"),
		codeCh: make(chan string, 1),
	}
}

// attempt is the ephemeral per-attempt context. It is created at the start
// of Run and discarded at its end; it never outlives the attempt.
type attempt struct {
	id         string
	identity   string
	startedAt  time.Time
	stage      Stage
	lastMarker string
}

func (a *attempt) fail(err error) *FlowError {
	return &FlowError{
		Stage:      a.stage,
		Identity:   a.identity,
		Elapsed:    time.Since(a.startedAt),
		LastMarker: a.lastMarker,
		Err:        err,
	}
}

// Run executes one login attempt. On nil return the browser session is
// authenticated and the caller is responsible for extracting cookies and
// persisting them. A non-nil return is always a *FlowError carrying the
// stage, identity and elapsed time; the wrapped cause is one of the
// taxonomy sentinels, a driver error, or the context's error, matchable
// with errors.Is.
func (m *Machine) Run(ctx context.Context, creds schemas.Credentials) error {
	if !m.running.CompareAndSwap(false, true) {
		return &FlowError{Stage: StageStart, Identity: creds.Identifier, Err: ErrAttemptInFlight}
	}
	defer m.running.Store(false)

	// Drop any code left over from a previous attempt; codes submitted
	// from here on belong to this attempt.
	select {
	case <-m.codeCh:
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	defer cancel()

	att := &attempt{
		id:        uuid.NewString(),
		identity:  creds.Identifier,
		startedAt: time.Now(),
		stage:     StageStart,
	}
	log := m.log.With(zap.String("attempt_id", att.id), zap.String("identity", att.identity))
	log.Info("Starting login attempt")

	if err := m.driver.Navigate(ctx, m.cfg.LoginURL); err != nil {
		att.stage = StageFailed
		return att.fail(err)
	}
	if err := m.sim.Hesitate(ctx, schemas.PauseNavigation); err != nil {
		return att.fail(err)
	}

	if err := m.identifierStage(ctx, att, creds); err != nil {
		return err
	}
	if err := m.checkpointStage(ctx, att, creds); err != nil {
		return err
	}
	if err := m.passwordStage(ctx, att, creds); err != nil {
		return err
	}

	outcome, err := m.postPasswordState(ctx, att)
	if err != nil {
		return err
	}
	if outcome == StageTwoFactorEntry {
		if err := m.twoFactorStage(ctx, att, creds); err != nil {
			return err
		}
	}

	if err := m.verifySuccess(ctx, att); err != nil {
		return err
	}

	att.stage = StageSuccess
	log.Info("Login attempt succeeded",
		zap.Duration("elapsed", time.Since(att.startedAt)))
	return nil
}

// identifierStage types the primary identifier and advances. The marker
// wait is retried within the stage retry budget with simulated pacing.
func (m *Machine) identifierStage(ctx context.Context, att *attempt, creds schemas.Credentials) error {
	att.stage = StageIdentifierEntry

	marker, err := m.awaitMarkerWithRetries(ctx, att, identifierMarkers)
	if err != nil {
		return err
	}

	if err := m.typeInto(ctx, marker, creds.Identifier); err != nil {
		return att.fail(err)
	}
	if err := m.advance(ctx, marker); err != nil {
		return att.fail(err)
	}
	return m.postSubmitPause(ctx, att)
}

// checkpointStage handles the optional "unusual activity" confirmation.
// Absence is not an error: the probe uses the short optional-stage budget
// and simply moves on when nothing shows up.
func (m *Machine) checkpointStage(ctx context.Context, att *attempt, creds schemas.Credentials) error {
	marker, found, err := m.probeMarker(ctx, checkpointMarkers, m.cfg.OptionalStageTimeout)
	if err != nil {
		return att.fail(err)
	}
	if !found {
		m.log.Debug("No checkpoint challenge presented")
		return nil
	}

	att.stage = StageCheckpointChallenge
	att.lastMarker = marker
	m.log.Info("Handling checkpoint challenge")

	// The challenge asks for the secondary identifier; fall back to the
	// primary when none is configured.
	answer := creds.Username
	if answer == "" {
		answer = creds.Identifier
	}

	if err := m.typeInto(ctx, marker, answer); err != nil {
		return att.fail(err)
	}
	if err := m.advance(ctx, marker); err != nil {
		return att.fail(err)
	}
	return m.postSubmitPause(ctx, att)
}

// passwordStage types the password and submits it with an Enter press.
func (m *Machine) passwordStage(ctx context.Context, att *attempt, creds schemas.Credentials) error {
	att.stage = StagePasswordEntry

	marker, err := m.awaitMarkerWithRetries(ctx, att, passwordMarkers)
	if err != nil {
		return err
	}

	if err := m.typeInto(ctx, marker, creds.Password); err != nil {
		return att.fail(err)
	}
	if err := m.pressEnter(ctx, marker); err != nil {
		return att.fail(err)
	}
	return m.postSubmitPause(ctx, att)
}

// postPasswordState inspects the page after password submission and
// decides the next transition: success, two-factor, or terminal failure.
func (m *Machine) postPasswordState(ctx context.Context, att *attempt) (Stage, error) {
	deadline := time.Now().Add(m.cfg.StageTimeout)
	for {
		if err := ctx.Err(); err != nil {
			att.stage = StageFailed
			return StageFailed, att.fail(err)
		}

		if marker, found, err := m.probeOnce(ctx, rejectedMarkers); err != nil {
			return StageFailed, att.fail(err)
		} else if found {
			att.stage = StageFailed
			att.lastMarker = marker
			return StageFailed, att.fail(ErrCredentialsRejected)
		}

		if marker, found, err := m.probeOnce(ctx, twoFactorMarkers); err != nil {
			return StageFailed, att.fail(err)
		} else if found {
			att.lastMarker = marker
			return StageTwoFactorEntry, nil
		}

		if marker, found, err := m.probeOnce(ctx, loggedInMarkers); err != nil {
			return StageFailed, att.fail(err)
		} else if found {
			att.lastMarker = marker
			return StageSuccess, nil
		}

		if time.Now().After(deadline) {
			att.stage = StageFailed
			return StageFailed, att.fail(ErrUnrecognizedFlow)
		}

		select {
		case <-time.After(m.cfg.MarkerPollInterval):
		case <-ctx.Done():
			att.stage = StageFailed
			return StageFailed, att.fail(ctx.Err())
		}
	}
}

// twoFactorStage enters the verification code, either derived from the
// configured seed or supplied manually within the bounded entry window.
func (m *Machine) twoFactorStage(ctx context.Context, att *attempt, creds schemas.Credentials) error {
	att.stage = StageTwoFactorEntry

	marker, found, err := m.probeMarker(ctx, twoFactorMarkers, m.cfg.OptionalStageTimeout)
	if err != nil {
		return att.fail(err)
	}
	if !found {
		return att.fail(ErrUnrecognizedFlow)
	}
	att.lastMarker = marker

	code, err := m.obtainCode(ctx, creds)
	if err != nil {
		att.stage = StageFailed
		return att.fail(err)
	}

	if err := m.typeInto(ctx, marker, code); err != nil {
		return att.fail(err)
	}
	if err := m.pressEnter(ctx, marker); err != nil {
		return att.fail(err)
	}
	return m.postSubmitPause(ctx, att)
}

// verifySuccess confirms the authenticated main view, first ruling out a
// visible CAPTCHA-like challenge.
func (m *Machine) verifySuccess(ctx context.Context, att *attempt) error {
	if marker, found, err := m.probeOnce(ctx, captchaMarkers); err != nil {
		return att.fail(err)
	} else if found {
		att.stage = StageFailed
		att.lastMarker = marker
		m.log.Warn("Challenge frame detected during verification", zap.String("marker", marker))
		return att.fail(ErrUnrecognizedFlow)
	}

	marker, found, err := m.probeMarker(ctx, loggedInMarkers, m.cfg.StageTimeout)
	if err != nil {
		return att.fail(err)
	}
	if !found {
		att.stage = StageFailed
		return att.fail(ErrStageTimeout)
	}
	att.lastMarker = marker
	return nil
}

// awaitMarkerWithRetries waits for one of the stage's markers, retrying
// within the stage retry budget with simulated pacing between retries.
// Exhausting the budget is terminal: StageTimeout if the page simply never
// produced the expected UI, UnrecognizedFlow if it produced something
// known to belong elsewhere in the flow.
func (m *Machine) awaitMarkerWithRetries(ctx context.Context, att *attempt, markers []string) (string, error) {
	var lastErr error
	for try := 1; try <= m.cfg.StageRetries; try++ {
		marker, found, err := m.probeMarker(ctx, markers, m.cfg.StageTimeout)
		if err != nil {
			att.stage = StageFailed
			return "", att.fail(err)
		}
		if found {
			att.lastMarker = marker
			return marker, nil
		}

		lastErr = ErrStageTimeout
		m.log.Warn("Stage markers not found, retrying",
			zap.String("stage", att.stage.String()),
			zap.Int("try", try),
			zap.Int("budget", m.cfg.StageRetries))

		if try < m.cfg.StageRetries {
			if err := m.sim.Hesitate(ctx, schemas.PauseRetry); err != nil {
				att.stage = StageFailed
				return "", att.fail(err)
			}
		}
	}

	// The expected UI never appeared. If some other stage's UI is visible
	// the site changed its flow on us; report that distinctly.
	if marker, found, _ := m.probeOnce(ctx, otherStageMarkers(markers)); found {
		att.lastMarker = marker
		att.stage = StageFailed
		return "", att.fail(ErrUnrecognizedFlow)
	}

	att.stage = StageFailed
	return "", att.fail(lastErr)
}

// otherStageMarkers returns every known marker not belonging to the
// current stage, used to distinguish "nothing loaded" from "wrong step".
func otherStageMarkers(current []string) []string {
	skip := make(map[string]struct{}, len(current))
	for _, s := range current {
		skip[s] = struct{}{}
	}

	all := make([]string, 0, 16)
	for _, set := range [][]string{identifierMarkers, checkpointMarkers, passwordMarkers, twoFactorMarkers, loggedInMarkers, captchaMarkers} {
		for _, s := range set {
			if _, ok := skip[s]; !ok {
				all = append(all, s)
			}
		}
	}
	return all
}

// probeMarker polls the marker set until one is present or the timeout
// elapses. Absence is reported as found=false, never as an error.
func (m *Machine) probeMarker(ctx context.Context, markers []string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		marker, found, err := m.probeOnce(ctx, markers)
		if err != nil || found {
			return marker, found, err
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}

		select {
		case <-time.After(m.cfg.MarkerPollInterval):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// probeOnce checks each marker once, in order.
func (m *Machine) probeOnce(ctx context.Context, markers []string) (string, bool, error) {
	for _, sel := range markers {
		present, err := m.driver.Find(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if present {
			return sel, true, nil
		}
	}
	return "", false, nil
}

// typeInto plans keystrokes for text and executes them against selector.
func (m *Machine) typeInto(ctx context.Context, selector, text string) error {
	if err := m.sim.Hesitate(ctx, schemas.PauseShort); err != nil {
		return err
	}
	return m.driver.SendKeys(ctx, selector, m.sim.PlanKeystrokes(text))
}

// advance clicks the step's next button, falling back to an Enter press
// when no known button is present.
func (m *Machine) advance(ctx context.Context, inputSelector string) error {
	if err := m.sim.Hesitate(ctx, schemas.PauseAction); err != nil {
		return err
	}

	button, found, err := m.probeOnce(ctx, nextButtonMarkers)
	if err != nil {
		return err
	}
	if found {
		return m.driver.Click(ctx, button)
	}
	return m.pressEnter(ctx, inputSelector)
}

// pressEnter submits the form from within the given input.
func (m *Machine) pressEnter(ctx context.Context, selector string) error {
	if err := m.sim.Hesitate(ctx, schemas.PauseAction); err != nil {
		return err
	}
	return m.driver.SendKeys(ctx, selector, []schemas.Keystroke{{Rune: '\r', Delay: 0}})
}

func (m *Machine) postSubmitPause(ctx context.Context, att *attempt) error {
	if err := m.sim.Hesitate(ctx, schemas.PauseNavigation); err != nil {
		att.stage = StageFailed
		return att.fail(err)
	}
	return nil
}
