package cmd

import (
	"context"
	"fmt"

	"github.com/posaune0423/tor-selenium-x/internal/browser"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/posaune0423/tor-selenium-x/internal/controller"
	"github.com/posaune0423/tor-selenium-x/internal/humanoid"
	"github.com/posaune0423/tor-selenium-x/internal/login"
	"github.com/posaune0423/tor-selenium-x/internal/observability"
	"github.com/posaune0423/tor-selenium-x/internal/store"
	"github.com/posaune0423/tor-selenium-x/internal/transport"
	"go.uber.org/zap"
)

// Components holds the initialized services behind one session run. It
// centralizes lifecycle management so every exit path tears down in the
// right order.
type Components struct {
	Gate           *transport.Gate
	Store          *store.Store
	BrowserManager *browser.Manager
	Driver         *browser.Driver
	Machine        *login.Machine
	Controller     *controller.Controller
}

// Shutdown releases everything a run acquired: the page first, then the
// browser, then the proxy process. Safe on partially built components.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()

	if c.Driver != nil {
		c.Driver.Close()
		logger.Debug("Page driver closed.")
	}
	if c.BrowserManager != nil {
		c.BrowserManager.Close()
		logger.Debug("Browser manager closed.")
	}
	if c.Gate != nil {
		if err := c.Gate.Close(); err != nil {
			logger.Warn("Error stopping proxy process.", zap.Error(err))
		} else {
			logger.Debug("Transport gate closed.")
		}
	}
	logger.Info("All session components shut down.")
}

// buildComponents handles the dependency wiring for a session run. The
// browser is configured against the gate's SOCKS port before the gate is
// proven ready; the controller refuses to drive pages until it is.
func buildComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := observability.GetLogger()
	components := &Components{}

	var initErr error
	defer func() {
		if initErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initErr))
			components.Shutdown()
		}
	}()

	components.Gate = transport.New(cfg.Transport, logger)
	logger.Debug("Transport gate created.")

	artifacts, err := store.New(cfg.Store, logger)
	if err != nil {
		initErr = fmt.Errorf("failed to initialize artifact store: %w", err)
		return nil, initErr
	}
	components.Store = artifacts
	logger.Debug("Artifact store initialized.")

	sim := humanoid.New(cfg.Humanoid, logger)

	components.BrowserManager = browser.NewManager(ctx, logger, cfg)
	driver, err := components.BrowserManager.NewDriver(ctx, sim)
	if err != nil {
		initErr = fmt.Errorf("failed to start browser: %w", err)
		return nil, initErr
	}
	components.Driver = driver
	logger.Debug("Browser driver initialized.")

	components.Machine = login.New(driver, sim, cfg.Login, logger)
	components.Controller = controller.New(
		components.Gate, artifacts, driver, components.Machine, cfg.Login, logger)
	logger.Debug("Session controller wired.")

	return components, nil
}
