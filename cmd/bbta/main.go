package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/api"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/config"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/lockfile"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so that deferred cleanup happens first.
func run() int {
	cfg, err := config.Parse(".env")
	if err != nil {
		slog.Error("Failed to read configuration", "error", err)
		return 1
	}

	applyFlags(flag.CommandLine, cfg, os.Args[1:])
	cfg.ApplyDefaults()
	initializeLogger(cfg.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}

	if err := ensureStateDir(cfg); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", cfg.StateDir)
		return 1
	}

	if cfg.SQLite() || cfg.Transport == config.TransportWhatsApp {
		lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.Transport)
		if err != nil {
			slog.Error("Another instance owns the state directory", "error", err)
			return 1
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("Failed to release lock", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting bbta", "transport", cfg.Transport, "api_addr", cfg.APIAddr, "in_memory", cfg.InMemory)
	if err := api.Run(ctx, cfg); err != nil {
		slog.Error("bbta failed to run", "error", err)
		return 1
	}
	slog.Info("bbta exited successfully")
	return 0
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// applyFlags overrides cfg with command-line flags. Flag defaults are the
// values read from the environment.
func applyFlags(fs *flag.FlagSet, cfg *config.Config, args []string) {
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (overrides $STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "conversation store DSN (overrides $DATABASE_URL)")
	fs.BoolVar(&cfg.InMemory, "in-memory", cfg.InMemory, "keep all state in memory (overrides $IN_MEMORY_STORE)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "channel transport: twilio, whatsapp or none (overrides $TRANSPORT)")
	fs.StringVar(&cfg.TenantsFile, "tenants", cfg.TenantsFile, "YAML file of tenant profiles to seed (overrides $TENANTS_FILE)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.WhatsAppQROutput, "qr-output", cfg.WhatsAppQROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.WhatsAppNumericCode, "numeric-code", cfg.WhatsAppNumericCode, "use a numeric login code instead of a QR code")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")

	// ExitOnError: a bad flag exits with status 2.
	_ = fs.Parse(args)

	slog.Debug("flags parsed",
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.DatabaseURL != "",
		"inMemory", cfg.InMemory,
		"apiAddr", cfg.APIAddr,
		"transport", cfg.Transport,
		"openaiKeySet", cfg.OpenAIKey != "")
}

// ensureStateDir creates the state directory when something will be written
// there: a SQLite store, the whatsmeow session or the lock file.
func ensureStateDir(cfg *config.Config) error {
	if !cfg.SQLite() && cfg.Transport != config.TransportWhatsApp {
		return nil
	}
	slog.Debug("Creating state directory", "state_dir", cfg.StateDir)
	return os.MkdirAll(cfg.StateDir, 0o755)
}
