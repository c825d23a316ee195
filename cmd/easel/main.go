package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/inkworks/easel/internal/api"
	"github.com/inkworks/easel/internal/config"
	"github.com/inkworks/easel/internal/render"
	"github.com/inkworks/easel/internal/storage"
	"github.com/inkworks/easel/internal/store"
)

var version = "dev"

func main() {
	// Missing .env is fine; config may still interpolate from the caller's
	// environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "generate":
		if err := runGenerate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("easel %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: easel <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Run the reference studio backend")
	fmt.Fprintln(os.Stderr, "  generate  Submit a generation job and stream it to stdout")
	fmt.Fprintln(os.Stderr, "  watch     Follow a live generation session in a TUI")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.Service.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting easel", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	stores := api.Stores{
		Albums:   store.NewAlbumStore(db),
		Jobs:     store.NewJobStore(db),
		Assets:   store.NewAssetStore(db),
		Messages: store.NewMessageStore(db),
	}

	broker := render.NewBroker()
	renderer := render.NewRenderer(stores.Jobs, stores.Assets, broker, logger,
		render.WithProgress(cfg.Render.ProgressSteps, cfg.Render.StepDelay))

	// Re-enqueue jobs interrupted by a previous shutdown.
	if err := renderer.RecoverJobs(ctx); err != nil {
		logger.Error("job recovery failed", "error", err)
	}

	go renderer.Start(ctx)

	srv := api.New(api.Config{
		Listen:            cfg.API.Listen,
		Token:             cfg.API.Token,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
	}, stores, renderer, broker, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		select {
		case <-renderer.Done():
			logger.Info("renderer stopped gracefully")
		case <-time.After(10 * time.Second):
			logger.Warn("renderer did not stop within 10s, exiting anyway")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}
