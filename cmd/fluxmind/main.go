// ABOUTME: Entry point for the fluxmind conversation orchestrator
// ABOUTME: Dispatches subcommands for the responder, archiver, chat REPL, and stats

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/fluxmind/internal/config"
)

// version is set at build time with -ldflags "-X main.version=<tag>".
var version = "dev"

const banner = `
  __ _                       _           _
 / _| |_   ___  ___ __ ___  (_)_ __   __| |
| |_| | | | \ \/ / '_ ' _ \ | | '_ \ / _' |
|  _| | |_| |>  <| | | | | || | | | | (_| |
|_| |_|\__,_/_/\_\_| |_| |_||_|_| |_|\__,_|
`

// getConfigPath returns the path to the fluxmind config file.
// Priority: FLUXMIND_CONFIG env var > XDG_CONFIG_HOME/fluxmind/config.yaml > ~/.config/fluxmind/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FLUXMIND_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fluxmind", "config.yaml")
}

func usage() {
	fmt.Println("Usage: fluxmind <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Run responder, archiver, and health endpoint together")
	fmt.Println("  responder                Run only the responder consumer")
	fmt.Println("  archiver                 Run only the archival sweeper")
	fmt.Println("  chat [conversation-id]   Interactive conversation from the terminal")
	fmt.Println("  stats <conversation-id>  Show analytics for a conversation")
	fmt.Println("  version                  Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A missing .env is fine; values may come from the real environment.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "responder":
		err = runResponder(ctx)
	case "archiver":
		err = runArchiver(ctx)
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "stats":
		err = runStats(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
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

// loadConfig reads the config file, falling back to defaults when the
// default location does not exist.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) && os.Getenv("FLUXMIND_CONFIG") == "" {
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func printBanner() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)
}

func printSetting(label, value string) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("%-11s %s\n", label+":", value)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
