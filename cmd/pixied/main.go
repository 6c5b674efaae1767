package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/pixied/internal/app"
	"github.com/dokzlo13/pixied/internal/config"
)

const usage = `Usage: pixied [flags] [command]

Commands:
  run       run the daemon (default)
  discover  log in, print the usable devices as YAML and store them

Flags:
`

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetSession := flag.Bool("reset-session", false, "Forget the stored cloud session and devices, forcing rediscovery")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	if command != "run" && command != "discover" {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Str("command", command).Msg("Starting pixied")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset session flag
	if *resetSession {
		log.Info().Msg("Clearing stored cloud session (--reset-session)")
		if err := application.ResetSession(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear stored session")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if command == "discover" {
		err := discover(ctx, application)
		if stopErr := application.Stop(); stopErr != nil {
			log.Error().Err(stopErr).Msg("Error during shutdown")
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Discovery failed")
		}
		return
	}

	// Start the application
	if err := application.Start(ctx); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// discover prints the discovery entry to stdout with the password masked.
func discover(ctx context.Context, application *app.App) error {
	entry, err := application.Discover(ctx)
	if err != nil {
		return err
	}

	out := *entry
	out.Credentials = entry.Credentials.Redacted()

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(out)
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
