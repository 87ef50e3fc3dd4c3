// ABOUTME: serve subcommand: wires config, supervisor, broadcaster, store and sinks
// ABOUTME: Every long-running part stops when the signal context is cancelled

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"

	"github.com/2389/coven-fleet/internal/agent"
	"github.com/2389/coven-fleet/internal/broadcast"
	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/matrixsink"
	"github.com/2389/coven-fleet/internal/protocol"
	_ "github.com/2389/coven-fleet/internal/protocol/sim"
	"github.com/2389/coven-fleet/internal/store"
	"github.com/2389/coven-fleet/internal/websink"
)

// runner is one long-running part of the process. Only a fatal runner's
// failure stops the process; any other runner logs its error and stops alone.
type runner struct {
	name  string
	run   func(ctx context.Context) error
	fatal bool
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	if parseLevel(cfg.Logging.Level) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	printStartup(configPath, cfg)

	dialer, err := protocol.Lookup(cfg.Server.Driver)
	if err != nil {
		return err
	}

	provider := config.NewProvider(configPath, cfg, logger)
	state := broadcast.NewState(0)
	bc := broadcast.NewBroadcaster(state, logger)
	sup := agent.NewSupervisor(provider, dialer, bc, logger)

	runners := []runner{
		{name: "supervisor", run: sup.Run, fatal: true},
		{name: "config watcher", run: provider.Watch},
	}

	if cfg.Database.Path != "" {
		chatStore, err := store.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("opening chat store: %w", err)
		}
		defer chatStore.Close()

		ids := make([]string, 0, len(cfg.AgentAccounts()))
		for _, acc := range cfg.AgentAccounts() {
			ids = append(ids, acc.Username)
		}
		if err := broadcast.SeedFromStore(ctx, state, chatStore, ids); err != nil {
			logger.Warn("failed to seed chat history", "error", err)
		}
		if err := bc.AddSink(broadcast.NewArchiveSink(chatStore)); err != nil {
			return err
		}
	}

	if cfg.Web.Enabled {
		web := websink.New(provider, sup, state, logger)
		if err := bc.AddSink(web); err != nil {
			return err
		}
		runners = append(runners, runner{name: "web", run: web.Run})
	}

	if cfg.Matrix.Enabled {
		messenger, err := matrixsink.NewMautrixMessenger(cfg.Matrix, logger)
		if err != nil {
			return err
		}
		mx := matrixsink.New(provider, sup, messenger, messenger.UserID(), logger)
		if err := bc.AddSink(mx); err != nil {
			return err
		}
		runners = append(runners,
			runner{name: "matrix refresh", run: mx.Run},
			runner{name: "matrix sync", run: func(ctx context.Context) error {
				return messenger.Sync(ctx, mx.HandleEvent)
			}},
		)
	}

	runners = append(runners, runner{name: "broadcaster", fatal: true, run: func(ctx context.Context) error {
		return bc.Run(ctx, sup, cfg.Web.RefreshInterval)
	}})

	logger.Info("starting coven-fleet",
		"config", configPath,
		"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"driver", cfg.Server.Driver,
	)
	return runAll(ctx, logger, runners, func() {
		n := sup.StartAll()
		logger.Info("agents queued", "count", n)
	})
}

// runAll starts every runner, calls started, and waits for ctx. The first
// fatal runner to fail cancels the rest; a non-fatal failure is logged and
// leaves everything else running.
func runAll(ctx context.Context, logger *slog.Logger, runners []runner, started func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(runners))
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Go(func() {
			err := r.run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if !r.fatal {
				logger.Error("component stopped", "component", r.name, "error", err)
				return
			}
			errCh <- fmt.Errorf("%s: %w", r.name, err)
		})
	}
	if started != nil {
		started()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "error", runErr)
	}
	cancel()
	wg.Wait()
	return runErr
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Server:    %s:%d ", cfg.Server.Host, cfg.Server.Port)
	gray.Printf("(%s)\n", cfg.Server.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %d\n", len(cfg.AgentAccounts()))

	if cfg.Web.Enabled {
		green.Print("    ▶ ")
		if cfg.Web.Tailscale.Enabled {
			fmt.Printf("Web:       ")
			cyan.Print(cfg.Web.Tailscale.Hostname)
			gray.Println(" (tailnet)")
		} else {
			fmt.Printf("Web:       http://localhost:%d\n", cfg.Web.Port)
		}
	}
	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s ", cfg.Matrix.UserID)
		gray.Printf("(%s every %s)\n", cfg.Matrix.Command, cfg.Matrix.UpdateInterval)
	}
	fmt.Println()
}
