// Command ellied serves the Ellie practice API and web client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/runtime"
)

var version = "0.1.0-dev"

const defaultConfig = "ellie.yaml"

func main() {
	fset := flag.NewFlagSet("ellied", flag.ExitOnError)
	configPath := fset.String("config", defaultConfig, "Path to configuration file")
	envFile := fset.String("env-file", ".env", "Optional dotenv file loaded before the config")
	showVersion := fset.Bool("version", false, "Print version and exit")
	_ = fset.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	explicit := false
	fset.Visit(func(f *flag.Flag) { explicit = explicit || f.Name == "config" })

	if err := run(*configPath, explicit, *envFile); err != nil {
		slog.Error("ellied exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, explicit bool, envFile string) error {
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	// Without -config a missing ellie.yaml means defaults plus environment.
	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			configPath = ""
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("starting ellie",
		slog.String("version", version),
		slog.String("environment", cfg.Environment),
		slog.String("config", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
