package login

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/humanoid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakePage is the set of selectors present on a scripted page.
type fakePage map[string]bool

// fakeDriver serves a scripted sequence of pages. Clicking a button or
// submitting with Enter advances to the next page; the last page is
// terminal. Everything typed is recorded per selector.
type fakeDriver struct {
	mu        sync.Mutex
	pages     []fakePage
	idx       int
	typed     map[string][]string
	navigated []string
}

func newFakeDriver(pages ...fakePage) *fakeDriver {
	return &fakeDriver{pages: pages, typed: make(map[string][]string)}
}

func (d *fakeDriver) advanceLocked() {
	if d.idx < len(d.pages)-1 {
		d.idx++
	}
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *fakeDriver) Find(_ context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[d.idx][selector], nil
}

func (d *fakeDriver) SendKeys(_ context.Context, selector string, plan []schemas.Keystroke) error {
	var sb strings.Builder
	for _, k := range plan {
		sb.WriteRune(k.Rune)
	}
	text := sb.String()

	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "\r" {
		d.advanceLocked()
		return nil
	}
	d.typed[selector] = append(d.typed[selector], text)
	return nil
}

func (d *fakeDriver) Click(_ context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	return nil
}

func (d *fakeDriver) Cookies(_ context.Context) ([]schemas.CookieEntry, error) {
	return nil, nil
}

func (d *fakeDriver) SetCookies(_ context.Context, _ []schemas.CookieEntry) error {
	return nil
}

func (d *fakeDriver) CurrentURL(_ context.Context) (string, error) {
	return "https://x.com/home", nil
}

func (d *fakeDriver) typedInto(selector string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.typed[selector]...)
}

// testLoginConfig keeps every wait tight so the full flow runs in
// milliseconds.
func testLoginConfig() config.LoginConfig {
	return config.LoginConfig{
		LoginURL:             "https://x.com/i/flow/login",
		HomeURL:              "https://x.com/home",
		StageTimeout:         100 * time.Millisecond,
		OptionalStageTimeout: 30 * time.Millisecond,
		MarkerPollInterval:   5 * time.Millisecond,
		StageRetries:         2,
		AttemptTimeout:       5 * time.Second,
		TwoFactorWindow:      100 * time.Millisecond,
	}
}

// fastSim builds a simulator whose pauses are near-instant.
func fastSim(t *testing.T) *humanoid.Humanoid {
	t.Helper()
	return humanoid.New(config.HumanoidConfig{
		Seed:               42,
		KeystrokeMean:      time.Millisecond,
		KeystrokeStddev:    time.Millisecond,
		KeystrokeMin:       time.Millisecond,
		KeystrokeMax:       2 * time.Millisecond,
		PauseShortMin:      time.Millisecond,
		PauseShortMax:      2 * time.Millisecond,
		PauseActionMin:     time.Millisecond,
		PauseActionMax:     2 * time.Millisecond,
		PauseNavigationMin: time.Millisecond,
		PauseNavigationMax: 2 * time.Millisecond,
		PauseRetryMin:      time.Millisecond,
		PauseRetryMax:      2 * time.Millisecond,
	}, zaptest.NewLogger(t))
}

func newTestMachine(t *testing.T, driver schemas.PageDriver, cfg config.LoginConfig) *Machine {
	t.Helper()
	return New(driver, fastSim(t), cfg, zaptest.NewLogger(t))
}

var testCreds = schemas.Credentials{
	Identifier: "user@example.com",
	Password:   "hunter2-secret",
	Username:   "example_handle",
}

func identifierPage() fakePage {
	return fakePage{
		"input[autocomplete='username']":         true,
		"[data-testid='LoginForm_Login_Button']": true,
	}
}

func passwordPage() fakePage {
	return fakePage{"input[autocomplete='current-password']": true}
}

func loggedInPage() fakePage {
	return fakePage{"[data-testid='primaryColumn']": true}
}

func TestRunHappyPathWithoutBranches(t *testing.T) {
	driver := newFakeDriver(identifierPage(), passwordPage(), loggedInPage())
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.NoError(t, err)

	require.Equal(t, []string{"https://x.com/i/flow/login"}, driver.navigated)
	assert.Equal(t, []string{testCreds.Identifier}, driver.typedInto("input[autocomplete='username']"))
	assert.Equal(t, []string{testCreds.Password}, driver.typedInto("input[autocomplete='current-password']"))
}

func TestRunHandlesCheckpointChallenge(t *testing.T) {
	checkpoint := fakePage{"input[data-testid='ocfEnterTextTextInput']": true}
	driver := newFakeDriver(identifierPage(), checkpoint, passwordPage(), loggedInPage())
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.NoError(t, err)

	// The challenge asks for the secondary identifier.
	assert.Equal(t, []string{testCreds.Username},
		driver.typedInto("input[data-testid='ocfEnterTextTextInput']"))
}

func TestRunCheckpointFallsBackToIdentifier(t *testing.T) {
	checkpoint := fakePage{"input[data-testid='ocfEnterTextTextInput']": true}
	driver := newFakeDriver(identifierPage(), checkpoint, passwordPage(), loggedInPage())
	m := newTestMachine(t, driver, testLoginConfig())

	creds := testCreds
	creds.Username = ""
	err := m.Run(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, []string{creds.Identifier},
		driver.typedInto("input[data-testid='ocfEnterTextTextInput']"))
}

func TestRunDerivesTwoFactorCodeFromSeed(t *testing.T) {
	twoFactor := fakePage{"input[autocomplete='one-time-code']": true}
	driver := newFakeDriver(identifierPage(), passwordPage(), twoFactor, loggedInPage())
	m := newTestMachine(t, driver, testLoginConfig())

	creds := testCreds
	creds.TwoFactorSeed = "JBSWY3DPEHPK3PXP"
	err := m.Run(context.Background(), creds)
	require.NoError(t, err)

	codes := driver.typedInto("input[autocomplete='one-time-code']")
	require.Len(t, codes, 1)
	assert.Len(t, codes[0], 6, "derived code should be a six digit TOTP")
}

func TestRunAcceptsManualTwoFactorCode(t *testing.T) {
	twoFactor := fakePage{"input[autocomplete='one-time-code']": true}
	driver := newFakeDriver(identifierPage(), passwordPage(), twoFactor, loggedInPage())
	cfg := testLoginConfig()
	cfg.TwoFactorWindow = time.Second
	m := newTestMachine(t, driver, cfg)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.SubmitTwoFactorCode("654321")
	}()

	err := m.Run(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, []string{"654321"}, driver.typedInto("input[autocomplete='one-time-code']"))
}

func TestRunFailsWhenTwoFactorWindowExpires(t *testing.T) {
	twoFactor := fakePage{"input[autocomplete='one-time-code']": true}
	driver := newFakeDriver(identifierPage(), passwordPage(), twoFactor)
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrTwoFactorWindowExpired)

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StageFailed, flowErr.Stage)
}

func TestRunReportsRejectedCredentials(t *testing.T) {
	rejected := fakePage{"[data-testid='error-detail']": true}
	driver := newFakeDriver(identifierPage(), passwordPage(), rejected)
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrCredentialsRejected)

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, testCreds.Identifier, flowErr.Identity)
	assert.Equal(t, "[data-testid='error-detail']", flowErr.LastMarker)
}

func TestFlowErrorNeverLeaksSecrets(t *testing.T) {
	rejected := fakePage{"[data-testid='error-detail']": true}
	driver := newFakeDriver(identifierPage(), passwordPage(), rejected)
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testCreds.Password)
}

func TestRunTimesOutWhenExpectedMarkersNeverAppear(t *testing.T) {
	driver := newFakeDriver(fakePage{})
	m := newTestMachine(t, driver, testLoginConfig())

	start := time.Now()
	err := m.Run(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrStageTimeout)

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StageFailed, flowErr.Stage)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunReportsUnrecognizedFlowForOutOfOrderPages(t *testing.T) {
	// The password input shows up where the identifier input belongs.
	driver := newFakeDriver(passwordPage())
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrUnrecognizedFlow)
}

func TestRunReportsUnrecognizedFlowOnChallengeFrame(t *testing.T) {
	captcha := fakePage{
		"[data-testid='primaryColumn']": true,
		"iframe[src*='captcha']":        true,
	}
	driver := newFakeDriver(identifierPage(), passwordPage(), captcha)
	m := newTestMachine(t, driver, testLoginConfig())

	err := m.Run(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrUnrecognizedFlow)

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "iframe[src*='captcha']", flowErr.LastMarker)
}

func TestRunRejectsConcurrentAttempts(t *testing.T) {
	driver := newFakeDriver(fakePage{})
	cfg := testLoginConfig()
	cfg.StageTimeout = 300 * time.Millisecond
	m := newTestMachine(t, driver, cfg)

	first := make(chan error, 1)
	go func() { first <- m.Run(context.Background(), testCreds) }()

	// Give the first attempt time to claim the machine.
	time.Sleep(30 * time.Millisecond)
	err := m.Run(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrAttemptInFlight)

	require.Error(t, <-first)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	driver := newFakeDriver(fakePage{})
	m := newTestMachine(t, driver, testLoginConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Run(ctx, testCreds)
	require.ErrorIs(t, err, context.Canceled)

	// Even non-taxonomy causes arrive wrapped with the attempt diagnostics.
	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, testCreds.Identifier, flowErr.Identity)
}

func TestSubmitTwoFactorCodeDoesNotBlockWithoutWaiter(t *testing.T) {
	m := newTestMachine(t, newFakeDriver(fakePage{}), testLoginConfig())

	assert.True(t, m.SubmitTwoFactorCode("111111"), "first code fills the buffer")
	assert.False(t, m.SubmitTwoFactorCode("222222"), "second code is dropped")
}

func TestStageStringCoversAllStages(t *testing.T) {
	for stage, want := range map[Stage]string{
		StageStart:               "start",
		StageIdentifierEntry:     "identifier_entry",
		StageCheckpointChallenge: "checkpoint_challenge",
		StagePasswordEntry:       "password_entry",
		StageTwoFactorEntry:      "two_factor_entry",
		StageSuccess:             "success",
		StageFailed:              "failed",
	} {
		assert.Equal(t, want, stage.String())
	}
}
