package login

import (
	"context"
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// SubmitTwoFactorCode hands a manually obtained verification code to the
// attempt currently suspended in its two-factor entry window. It never
// blocks: if no attempt is waiting (or a code was already submitted) the
// code is dropped and false is returned.
func (m *Machine) SubmitTwoFactorCode(code string) bool {
	select {
	case m.codeCh <- code:
		return true
	default:
		return false
	}
}

// obtainCode produces the verification code for the two-factor stage.
// With a configured seed the code is derived locally; otherwise the
// attempt suspends until an operator submits one, bounded by the entry
// window.
func (m *Machine) obtainCode(ctx context.Context, creds schemas.Credentials) (string, error) {
	if creds.TwoFactorSeed != "" {
		code, err := totp.GenerateCode(creds.TwoFactorSeed, time.Now())
		if err != nil {
			return "", err
		}
		m.log.Debug("Derived two-factor code from configured seed")
		return code, nil
	}

	m.log.Info("Waiting for manual two-factor code",
		zap.Duration("window", m.cfg.TwoFactorWindow))

	select {
	case code := <-m.codeCh:
		return code, nil
	case <-time.After(m.cfg.TwoFactorWindow):
		return "", ErrTwoFactorWindowExpired
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
