// ABOUTME: Entry point for coven-fleet, the game agent fleet supervisor
// ABOUTME: Dispatches serve, init, check, health and status subcommands

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/status"
	"github.com/2389/coven-fleet/internal/websink"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        / _| | ___  ___| |_
 / __/ _ \ \ / / _ \ '_ \ _____| |_| |/ _ \/ _ \ __|
| (_| (_) \ V /  __/ | | |_____|  _| |  __/  __/ |_
 \___\___/ \_/ \___|_| |_|     |_| |_|\___|\___|\__|
`

// getConfigPath returns the path to the fleet config file.
// Priority: COVEN_FLEET_CONFIG env var > XDG_CONFIG_HOME/coven/fleet.yaml > ~/.config/coven/fleet.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_FLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "fleet.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "fleet.yaml")
}

// getDataPath returns the path to the fleet data directory.
// Priority: XDG_DATA_HOME/coven-fleet > ~/.local/share/coven-fleet
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-fleet")
}

func usage() {
	fmt.Println("Usage: coven-fleet <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the fleet supervisor and its sinks")
	fmt.Println("  init     Create a new config file interactively")
	fmt.Println("  check    Validate the config file and print a summary")
	fmt.Println("  health   Check the web dashboard is answering")
	fmt.Println("  status   Print the status of every agent")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A missing .env is normal; secrets may come from the real environment.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "check":
		err = runCheck()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	green.Printf("  ✓ %s is valid\n\n", configPath)
	fmt.Printf("  Server:   %s:%d (%s, driver %s)\n", cfg.Server.Host, cfg.Server.Port, cfg.Server.Version, cfg.Server.Driver)
	for _, acc := range cfg.AgentAccounts() {
		fmt.Printf("  Agent:    %s ", acc.Username)
		gray.Printf("(%s)\n", acc.Auth)
	}
	fmt.Printf("  Web:      %s\n", enabledText(cfg.Web.Enabled))
	fmt.Printf("  Matrix:   %s\n", enabledText(cfg.Matrix.Enabled))
	if cfg.Database.Path != "" {
		fmt.Printf("  Database: %s\n", cfg.Database.Path)
	}
	return nil
}

func enabledText(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func dashboardURL(cfg *config.Config, path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.Web.Port, path)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dashboardURL(cfg, "/health"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dashboardURL(cfg, "/api/status"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed: status %d", resp.StatusCode)
	}

	var bots map[string]websink.BotStatus
	if err := json.NewDecoder(resp.Body).Decode(&bots); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	snaps := make(map[string]status.Snapshot, len(bots))
	for id, b := range bots {
		snaps[id] = b.Snapshot
	}
	printStatus(snaps)
	return nil
}

func printStatus(snaps map[string]status.Snapshot) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	if len(snaps) == 0 {
		fmt.Println("no agents")
		return
	}
	for _, id := range status.SortedIDs(snaps) {
		snap := snaps[id]
		if !snap.Online {
			red.Print("● ")
			fmt.Printf("%-16s ", id)
			gray.Println("offline")
			continue
		}
		green.Print("● ")
		fmt.Printf("%-16s ", id)
		if snap.Health != nil && snap.Food != nil {
			fmt.Printf("hp %2d  food %2d  ", *snap.Health, *snap.Food)
		}
		gray.Printf("%s  %s\n", snap.Dimension, snap.Position)
	}
}
