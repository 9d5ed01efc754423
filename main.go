package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/invoice-ingest/builder"
	"github.com/dhcgn/invoice-ingest/cmd"
	"github.com/dhcgn/invoice-ingest/config"
	"github.com/dhcgn/invoice-ingest/imap"
	"github.com/dhcgn/invoice-ingest/mbox"
	"github.com/dhcgn/invoice-ingest/pipeline"
	"github.com/dhcgn/invoice-ingest/runner"
	"github.com/dhcgn/invoice-ingest/state"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "invoice-ingest",
		Short:        "Turn billing mail into builder-ready invoice documents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, func(ctx context.Context, r *runner.Runner) error {
				return r.Start(ctx)
			})
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single ingest cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, func(ctx context.Context, r *runner.Runner) error {
				return r.RunOnce(ctx)
			})
		},
	}
	rootCmd.AddCommand(onceCmd)
	cmd.AddCommands(rootCmd)

	config.RegisterFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func start(cmd *cobra.Command, run func(context.Context, *runner.Runner) error) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	slog.SetDefault(logger)
	logger.Info("starting invoice-ingest", "source", source(cfg), "success", cfg.SuccessMailbox, "failure", cfg.FailureMailbox, "interval", cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker, err := state.NewFileTracker(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("state.NewFileTracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("close state tracker", "err", err)
		}
	}()

	orchestrator, err := newOrchestrator(cfg, tracker, logger)
	if err != nil {
		return err
	}

	return run(ctx, runner.New(cfg, orchestrator, logger))
}

func newOrchestrator(cfg config.Config, tracker state.Tracker, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	outcomes := []string{cfg.SuccessMailbox, cfg.FailureMailbox}

	var dialer pipeline.Dialer
	if cfg.MboxSource != "" {
		d, err := mbox.NewDialer(mbox.Options{
			Path:      cfg.MboxSource,
			OutputDir: cfg.MboxOutputDir,
			Outcomes:  outcomes,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("mbox.NewDialer: %w", err)
		}
		dialer = d
	} else {
		d, err := imap.NewDialer(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Mailbox:            cfg.SourceMailbox,
			Outcomes:           outcomes,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("imap.NewDialer: %w", err)
		}
		dialer = d
	}

	b := &builder.Command{Path: cfg.BuilderCommand, Args: cfg.BuilderArgs, Logger: logger}

	o, err := pipeline.New(cfg, dialer, b, tracker, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline.New: %w", err)
	}
	return o, nil
}

func source(cfg config.Config) string {
	if cfg.MboxSource != "" {
		return cfg.MboxSource
	}
	return fmt.Sprintf("imap://%s@%s:%d/%s", cfg.IMAPUser, cfg.IMAPHost, cfg.IMAPPort, cfg.SourceMailbox)
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("invoice-ingest-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return errors.Join(file.Sync(), file.Close())
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
