package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"ollama-gate/internal/config"
	"ollama-gate/internal/metrics"
	"ollama-gate/internal/ollama"
	"ollama-gate/internal/server"
)

const serveUsage = `Usage:
  ollama-gate serve [--config <path>] [--env-file <path>] [--listen <host:port>]

Flags:
  --config   string   Path to YAML configuration file
  --env-file string   Dotenv file loaded before the environment is read
  --listen   string   Override the listen address from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var envFile string
	var overrideListen string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&envFile, "env-file", "", "path to dotenv file")
	fs.StringVar(&overrideListen, "listen", "", "override listen address")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overrideListen != "" {
		cfg.Server.Listen = overrideListen
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if err := configureLogging(cfg.Logging); err != nil {
		return err
	}

	backend := ollama.NewClient(cfg.Backend.Address, cfg.Backend.Timeout())

	srv, err := server.New(cfg, backend, metrics.New())
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
		return nil
	}

	// A .env in the working directory is a convenience; absence is normal.
	_ = godotenv.Load()
	return nil
}

func configureLogging(cfg config.LoggingConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}
