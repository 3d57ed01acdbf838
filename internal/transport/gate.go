// Package transport implements the readiness gate for the anonymizing
// proxy. The gate owns the proxy process lifecycle end to end: it spawns
// tor when asked, proves the SOCKS listener accepts connections, proves
// traffic actually egresses through the overlay, and guarantees the
// process is stopped when the gate is torn down.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotReady reports that the gate has not reached the Ready state.
var ErrNotReady = fmt.Errorf("anonymizing transport is not ready")

// egressProbe confirms one round trip through the proxy. Injectable so
// tests can exercise the gate without a live overlay network.
type egressProbe func(ctx context.Context) error

// Gate supervises the proxy process and its readiness state. It is the
// only component allowed to transition the transport status; everyone
// else observes it through Status().
type Gate struct {
	cfg config.TransportConfig
	log *zap.Logger

	mu     sync.Mutex
	status schemas.TransportStatus
	cmd    *exec.Cmd

	probe egressProbe
	// dial is injectable for listener-poll tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// New creates a gate. No process is started until EnsureReady.
func New(cfg config.TransportConfig, logger *zap.Logger) *Gate {
	g := &Gate{
		cfg:    cfg,
		log:    logger.Named("transport_gate"),
		status: schemas.TransportNotStarted,
		dial:   net.DialTimeout,
	}
	g.probe = g.checkEgress
	return g
}

// Status returns the current transport status.
func (g *Gate) Status() schemas.TransportStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Gate) setStatus(s schemas.TransportStatus) {
	g.mu.Lock()
	prev := g.status
	g.status = s
	g.mu.Unlock()
	if prev != s {
		g.log.Info("Transport status changed",
			zap.String("from", prev.String()),
			zap.String("to", s.String()))
	}
}

// EnsureReady drives the transport to a usable state: spawn the proxy if
// configured and not yet running, poll the SOCKS listener with a fixed
// interval and a hard attempt ceiling, then run the egress test with its
// own retry budget. Each phase has a separate budget so a slow bootstrap
// cannot starve the egress check.
//
// Returns Failed if the listener never accepts, Degraded if the listener
// is up but egress cannot be confirmed, Ready otherwise. The returned
// error carries the failing phase for the caller's logs.
func (g *Gate) EnsureReady(ctx context.Context) (schemas.TransportStatus, error) {
	if s := g.Status(); s == schemas.TransportReady {
		return s, nil
	}
	g.setStatus(schemas.TransportStarting)

	if err := g.startProcess(ctx); err != nil {
		g.setStatus(schemas.TransportFailed)
		return schemas.TransportFailed, fmt.Errorf("starting proxy process: %w", err)
	}

	if err := g.awaitListener(ctx); err != nil {
		g.setStatus(schemas.TransportFailed)
		return schemas.TransportFailed, fmt.Errorf("socks listener never came up: %w", err)
	}

	if err := g.awaitEgress(ctx); err != nil {
		// Listener is up but traffic cannot be confirmed to egress
		// anonymized. Usable for local diagnostics only, never for live
		// page interaction.
		g.setStatus(schemas.TransportDegraded)
		return schemas.TransportDegraded, fmt.Errorf("egress test failed: %w", err)
	}

	g.setStatus(schemas.TransportReady)
	return schemas.TransportReady, nil
}

// startProcess spawns the tor binary unless an external instance is
// expected (empty Binary) or a process is already being tracked.
func (g *Gate) startProcess(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cmd != nil || g.cfg.Binary == "" {
		return nil
	}

	if g.cfg.DataDir != "" {
		if err := os.MkdirAll(g.cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("creating tor data dir: %w", err)
		}
	}

	args := []string{
		"--SocksPort", strconv.Itoa(g.cfg.SocksPort),
		"--ControlPort", strconv.Itoa(g.cfg.ControlPort),
	}
	if g.cfg.DataDir != "" {
		args = append(args, "--DataDirectory", g.cfg.DataDir)
	}

	cmd := exec.CommandContext(ctx, g.cfg.Binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", g.cfg.Binary, err)
	}

	g.cmd = cmd
	g.log.Info("Spawned proxy process",
		zap.String("binary", g.cfg.Binary),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("socks_port", g.cfg.SocksPort))
	return nil
}

// awaitListener polls the SOCKS port until it accepts a TCP connection.
func (g *Gate) awaitListener(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(g.cfg.SocksPort))

	var lastErr error
	for attempt := 1; attempt <= g.cfg.ListenRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := g.dial("tcp", addr, g.cfg.PollInterval)
		if err == nil {
			conn.Close()
			g.log.Debug("SOCKS listener accepting connections",
				zap.String("addr", addr), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		select {
		case <-time.After(g.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", g.cfg.ListenRetries, lastErr)
}

// awaitEgress runs the round-trip egress probe under its own retry budget.
func (g *Gate) awaitEgress(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.EgressRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := g.probe(ctx); err == nil {
			g.log.Info("Egress through anonymizing transport confirmed",
				zap.Int("attempt", attempt))
			return nil
		} else {
			lastErr = err
			g.log.Warn("Egress probe failed",
				zap.Int("attempt", attempt), zap.Error(err))
		}

		select {
		case <-time.After(g.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", g.cfg.EgressRetries, lastErr)
}

// checkEgress performs one HTTP round trip through the SOCKS proxy against
// the configured check endpoint and requires the responder to confirm the
// traffic arrived via the overlay.
func (g *Gate) checkEgress(ctx context.Context) error {
	client, err := g.proxiedClient()
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.EgressTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.cfg.EgressURL, nil)
	if err != nil {
		return fmt.Errorf("building egress request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("egress round trip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("egress check returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("reading egress check response: %w", err)
	}

	var check struct {
		IsTor bool   `json:"IsTor"`
		IP    string `json:"IP"`
	}
	if err := json.Unmarshal(body, &check); err != nil {
		return fmt.Errorf("parsing egress check response: %w", err)
	}
	if !check.IsTor {
		return fmt.Errorf("traffic does not egress through the overlay (exit ip %s)", check.IP)
	}

	g.log.Debug("Egress check confirmed overlay exit", zap.String("exit_ip", check.IP))
	return nil
}

// Close tears the gate down, stopping the tracked proxy process on every
// exit path. Safe to call multiple times and on a gate that never started
// a process.
func (g *Gate) Close() error {
	g.mu.Lock()
	cmd := g.cmd
	g.cmd = nil
	g.status = schemas.TransportNotStarted
	g.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	g.log.Info("Stopping proxy process", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Kill(); err != nil && !isProcessDone(err) {
		return fmt.Errorf("killing proxy process: %w", err)
	}
	// Reap the process; the error after a kill is expected and ignored.
	_ = cmd.Wait()
	return nil
}

func isProcessDone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
