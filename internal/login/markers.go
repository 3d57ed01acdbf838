package login

// Page markers the machine probes to decide which stage the site is
// presenting. Each set is ordered: the first hit wins and is recorded as
// the attempt's last known marker. The lists are deliberately redundant;
// the target UI ships selector changes without notice.

// identifierMarkers match the initial email/username input.
var identifierMarkers = []string{
	"input[autocomplete='username']",
	"input[name='text'][type='text']",
}

// checkpointMarkers match the "unusual activity" confirmation input the
// site conditionally inserts after the identifier step.
var checkpointMarkers = []string{
	"input[data-testid='ocfEnterTextTextInput']",
}

// passwordMarkers match the password input.
var passwordMarkers = []string{
	"input[autocomplete='current-password']",
	"input[name='password']",
}

// twoFactorMarkers match the verification-code input presented when the
// account has two-factor enabled.
var twoFactorMarkers = []string{
	"input[data-testid='ocfEnterTextTextInput'][inputmode='numeric']",
	"input[autocomplete='one-time-code']",
}

// nextButtonMarkers match the button that advances the current step.
var nextButtonMarkers = []string{
	"[data-testid='LoginForm_Login_Button']",
	"button[type='submit']",
}

// loggedInMarkers confirm an authenticated main view.
var loggedInMarkers = []string{
	"[data-testid='primaryColumn']",
	"[data-testid='AppTabBar_Home_Link']",
	"[data-testid='SideNav_AccountSwitcher_Button']",
}

// rejectedMarkers match the site's explicit bad-credentials feedback.
var rejectedMarkers = []string{
	"[data-testid='error-detail']",
	"div[role='alert'][data-testid='toast']",
}

// captchaMarkers match CAPTCHA-like challenge frames. A visible challenge
// cannot be solved here, so it surfaces as an unrecognized flow.
var captchaMarkers = []string{
	"#arkose-challenge",
	".arkose-challenge",
	"[data-testid='captcha']",
	"iframe[src*='captcha']",
	"iframe[src*='recaptcha']",
}
