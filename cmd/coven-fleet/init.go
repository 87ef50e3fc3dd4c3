// ABOUTME: init subcommand: writes a starter fleet config from interactive prompts
// ABOUTME: Secrets can be left as ${VAR} references and supplied through .env

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-fleet/internal/config"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-fleet configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Game Server ---")
	host := prompt(reader, "Server host", "localhost")
	port := prompt(reader, "Server port", fmt.Sprint(config.DefaultServerPort))
	gameVersion := prompt(reader, "Game version", config.DefaultServerVersion)

	fmt.Println("\n--- Agents ---")
	names := strings.Split(prompt(reader, "Usernames (comma separated)", "FleetBot"), ",")

	fmt.Println("\n--- Web Dashboard ---")
	webEnabled := yes(prompt(reader, "Enable dashboard?", "yes"))
	webPort := fmt.Sprint(config.DefaultWebPort)
	allowChat := false
	if webEnabled {
		webPort = prompt(reader, "Dashboard port", webPort)
		allowChat = yes(prompt(reader, "Allow chatting from the dashboard?", "no"))
	}

	fmt.Println("\n--- Matrix Status Notice ---")
	matrixEnabled := yes(prompt(reader, "Enable Matrix status notice?", "no"))
	var homeserver, userID, roomID string
	if matrixEnabled {
		homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		userID = prompt(reader, "Bot user ID", "")
		roomID = prompt(reader, "Restrict to room ID (empty for any)", "")
	}

	defaultDB := filepath.Join(getDataPath(), "fleet.db")
	fmt.Println("\n--- Storage ---")
	dbPath := prompt(reader, "Chat log database (empty to disable)", defaultDB)

	var cfg strings.Builder
	cfg.WriteString("# coven-fleet configuration\n")
	cfg.WriteString("# Generated by coven-fleet init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  host: %q\n", host))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	cfg.WriteString(fmt.Sprintf("  version: %q\n", gameVersion))
	cfg.WriteString("\n")

	cfg.WriteString("accounts:\n")
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cfg.WriteString(fmt.Sprintf("  - username: %q\n", name))
		cfg.WriteString(fmt.Sprintf("    auth: %q\n", config.AuthOffline))
	}
	cfg.WriteString("\n")

	cfg.WriteString("plugins:\n")
	cfg.WriteString("  anti_afk: true\n")
	cfg.WriteString("  random_move: false\n")
	cfg.WriteString("  chat_logger: true\n")
	cfg.WriteString("  auto_spawn_command: false\n")
	cfg.WriteString("  auto_respawn: true\n")
	cfg.WriteString("  auto_reconnect: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("web:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", webEnabled))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", webPort))
	cfg.WriteString(fmt.Sprintf("  allow_web_chat: %t\n", allowChat))
	cfg.WriteString(fmt.Sprintf("  refresh_interval: %q\n", config.DefaultWebRefresh.String()))
	cfg.WriteString("\n")

	cfg.WriteString("matrix:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", matrixEnabled))
	if matrixEnabled {
		cfg.WriteString(fmt.Sprintf("  homeserver: %q\n", homeserver))
		cfg.WriteString(fmt.Sprintf("  user_id: %q\n", userID))
		cfg.WriteString("  access_token: \"${MATRIX_ACCESS_TOKEN}\"\n")
		if roomID != "" {
			cfg.WriteString(fmt.Sprintf("  room_id: %q\n", roomID))
		}
		cfg.WriteString(fmt.Sprintf("  command: %q\n", config.DefaultMatrixCommand))
		cfg.WriteString(fmt.Sprintf("  update_interval: %q\n", config.DefaultMatrixInterval.String()))
	}
	cfg.WriteString("\n")

	if dbPath != "" {
		cfg.WriteString("database:\n")
		cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString("  level: \"info\"\n")
	cfg.WriteString("  format: \"text\"\n")

	if _, err := config.Parse([]byte(cfg.String()), "yaml"); err != nil {
		if !matrixEnabled || !strings.Contains(err.Error(), "access_token") {
			return fmt.Errorf("generated config is invalid: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if matrixEnabled {
		fmt.Println("Set MATRIX_ACCESS_TOKEN in the environment or a .env file before serving.")
	}
	fmt.Println("\nTo start the fleet:")
	fmt.Printf("  coven-fleet serve\n")
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
