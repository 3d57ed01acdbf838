package cmd

import (
	"fmt"

	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/observability"
	"github.com/posaune0423/tor-selenium-x/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Bring up the anonymizing transport and report its readiness.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		cfg := config.Get()

		gate := transport.New(cfg.Transport, logger)
		defer func() {
			if err := gate.Close(); err != nil {
				logger.Warn("Error stopping proxy process.", zap.Error(err))
			}
		}()

		status, err := gate.EnsureReady(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "transport: %s\n", status)
		if err != nil {
			return fmt.Errorf("transport check: %w", err)
		}
		return nil
	},
}
