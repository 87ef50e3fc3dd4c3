// ABOUTME: Listener setup for the dashboard: plain TCP or a tsnet node on the tailnet
// ABOUTME: Run blocks until the context ends, then shuts the server down gracefully

package websink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/coven-fleet/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Run serves the dashboard until ctx is cancelled.
// Returns nil on graceful shutdown, or the error that stopped the server.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen(ctx)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web dashboard listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("web server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.logger.Error("web server error", "error", serveErr)
	}

	// The run context is already done; shut down on a fresh one.
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutErr := s.Shutdown(shutCtx)
	if serveErr != nil {
		return serveErr
	}
	return shutErr
}

// Shutdown stops the HTTP server, the socket.io server and the tailnet node.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	s.io.Close(nil)
	if s.tsServer != nil {
		if err := s.tsServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
		s.tsServer = nil
	}
	return errors.Join(errs...)
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	web := s.cfg.Current().Web
	if web.Tailscale.Enabled {
		return s.listenTailscale(ctx, web.Tailscale)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", web.Port))
	if err != nil {
		return nil, fmt.Errorf("listening on web port %d: %w", web.Port, err)
	}
	return ln, nil
}

func (s *Server) listenTailscale(ctx context.Context, ts config.TailscaleConfig) (net.Listener, error) {
	stateDir, err := resolveTailscaleStateDir(ts.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(ts.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsServer = &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       stateDir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
	}
	s.logger.Info("starting tailscale node", "hostname", ts.Hostname, "state_dir", stateDir, "ephemeral", ts.Ephemeral)
	st, err := s.tsServer.Up(ctx)
	if err != nil {
		_ = s.tsServer.Close()
		s.tsServer = nil
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr, dnsName string
	if len(st.TailscaleIPs) > 0 {
		tsAddr = st.TailscaleIPs[0].String()
	}
	if st.Self != nil {
		dnsName = st.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", ts.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	ln, err := s.tsServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsServer.Close()
		s.tsServer = nil
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set web.tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-fleet", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set web.tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}
