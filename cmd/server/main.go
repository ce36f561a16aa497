package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/retenify/retenify/internal/cache"
	"github.com/retenify/retenify/internal/chatstore"
	"github.com/retenify/retenify/internal/handlers"
	"github.com/retenify/retenify/internal/prompt"
	"github.com/retenify/retenify/internal/telemetry"
	"github.com/spf13/cobra"
)

const errLoggerKey = "err"

var (
	version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "retenify",
	Short: "Customer retention assistant chat backend",
	Long: `retenify serves the chat API of the customer retention console.
It keeps chats and console preferences in a consent-gated cache and answers
messages with a configurable generation provider.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), cmd.Flags().Changed("config"))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(),
		"config file")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dataDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "retenify"), nil
}

func defaultConfigPath() string {
	dir, err := dataDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

func serve(ctx context.Context, explicitConfig bool) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	cfg, err := loadConfig(cfgFile, explicitConfig)
	if err != nil {
		return err
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser, err := telemetry.InitLogger(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	tracer, meter, telemetryCleanup, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer telemetryCleanup()

	dir, err := dataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating data directory: %w", err)
	}

	storage, err := cfg.Storage.open(dir)
	if err != nil {
		return fmt.Errorf("error opening %s storage: %w", cfg.Storage.Driver, err)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error("Failed to close storage", slog.String(errLoggerKey, err.Error()))
		}
	}()

	c, err := cache.New(ctx, storage, logger)
	if err != nil {
		return fmt.Errorf("error loading cache: %w", err)
	}
	repo := chatstore.New(c, cfg.UserID, logger)

	var persona *prompt.Persona
	if cfg.PersonaFile != "" {
		if persona, err = prompt.LoadFile(cfg.PersonaFile); err != nil {
			return err
		}
	}

	gen, err := cfg.LLM.generator(logger)
	if err != nil {
		return fmt.Errorf("error creating generator: %w", err)
	}
	if gen == nil {
		logger.Warn("No generation credentials configured, answering with fallback replies only")
	}

	m, err := handlers.NewMain(repo, c, gen, persona, logger,
		handlers.WithGenerationTimeout(cfg.GenerationTimeout),
		handlers.WithTelemetry(tracer, meter),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("version", version))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	return nil
}
