package login

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors forming the login failure taxonomy. Callers match these
// with errors.Is; the wrapping FlowError carries the diagnostics.
var (
	// ErrStageTimeout means a stage's expected UI never appeared within
	// its budget. Recoverable inside the retry budget, terminal after it.
	ErrStageTimeout = errors.New("login stage timed out waiting for expected page state")

	// ErrUnrecognizedFlow means the site presented a step sequence the
	// machine does not know. Terminal: blind retries against an unknown
	// flow are how accounts get locked.
	ErrUnrecognizedFlow = errors.New("login flow presented an unrecognized page state")

	// ErrTwoFactorWindowExpired means no code arrived before the manual
	// entry deadline. Terminal.
	ErrTwoFactorWindowExpired = errors.New("two-factor entry window expired")

	// ErrCredentialsRejected means the site explicitly reported bad
	// credentials. Terminal: retrying can trigger account lockout.
	ErrCredentialsRejected = errors.New("credentials rejected by the site")

	// ErrAttemptInFlight means a login attempt is already running on this
	// machine. A UI-driving login is single-threaded per account.
	ErrAttemptInFlight = errors.New("login attempt already in flight")
)

// FlowError wraps a taxonomy sentinel with enough diagnostic context for
// operator troubleshooting. It deliberately excludes secrets: identity and
// page markers only, never credential material.
type FlowError struct {
	Stage      Stage
	Identity   string
	Elapsed    time.Duration
	LastMarker string
	Err        error
}

func (e *FlowError) Error() string {
	msg := fmt.Sprintf("login failed at stage %s for %q after %s: %v",
		e.Stage, e.Identity, e.Elapsed.Round(time.Millisecond), e.Err)
	if e.LastMarker != "" {
		msg += fmt.Sprintf(" (last marker: %s)", e.LastMarker)
	}
	return msg
}

func (e *FlowError) Unwrap() error { return e.Err }

// Stage identifies a position in the login state machine.
type Stage int

const (
	StageStart Stage = iota
	StageIdentifierEntry
	StageCheckpointChallenge
	StagePasswordEntry
	StageTwoFactorEntry
	StageSuccess
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageIdentifierEntry:
		return "identifier_entry"
	case StageCheckpointChallenge:
		return "checkpoint_challenge"
	case StagePasswordEntry:
		return "password_entry"
	case StageTwoFactorEntry:
		return "two_factor_entry"
	case StageSuccess:
		return "success"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}
