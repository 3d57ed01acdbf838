package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	loginIdentifier string
	loginUsername   string
	loginForce      bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain an authenticated session, restoring a stored one when possible.",
	Long: `Obtain an authenticated browser session for the given identity.

A stored session artifact is restored and validated first; only when no
usable artifact exists does a single interactive login attempt run. The
password is read from TORX_PASSWORD and an optional TOTP seed from
TORX_TOTP_SEED; neither is ever accepted as a flag, logged, or echoed.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginIdentifier, "identifier", "i", "", "account identifier (email or handle)")
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "secondary identifier for checkpoint challenges")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "discard any stored session and re-authenticate")
	_ = loginCmd.MarkFlagRequired("identifier")
}

func runLogin(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	cfg := config.Get()

	creds := schemas.Credentials{
		Identifier:    loginIdentifier,
		Username:      loginUsername,
		Password:      os.Getenv("TORX_PASSWORD"),
		TwoFactorSeed: os.Getenv("TORX_TOTP_SEED"),
	}
	if creds.Password == "" {
		return fmt.Errorf("TORX_PASSWORD is not set")
	}

	ctx := cmd.Context()
	components, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	// Without a TOTP seed a two-factor prompt has to be answered by the
	// operator; feed codes from stdin while the attempt runs.
	if creds.TwoFactorSeed == "" {
		go readCodesFromStdin(components)
	}

	session, err := components.Controller.ObtainSession(ctx, creds, loginForce)
	if err != nil {
		// A live session can arrive together with a storage error; keep
		// it usable and still fail the command so the operator sees the
		// broken artifact store.
		if session == nil {
			return fmt.Errorf("obtaining session: %w", err)
		}
		logger.Warn("Session established but not persisted", zap.Error(err))
		return fmt.Errorf("session not persisted: %w", err)
	}

	logger.Info("Session ready",
		zap.String("identity", session.Identity),
		zap.Bool("restored", session.Restored))

	how := "established via interactive login"
	if session.Restored {
		how = "restored from stored artifact"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session for %s %s.\n", session.Identity, how)
	return nil
}

// readCodesFromStdin forwards operator-typed lines as two-factor codes.
// Lines arriving while no attempt is waiting are dropped by the machine.
func readCodesFromStdin(components *Components) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			continue
		}
		if components.Controller.SubmitTwoFactorCode(code) {
			return
		}
	}
}
