package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/inkworks/easel/internal/event"
	"github.com/inkworks/easel/internal/gallery"
	"github.com/inkworks/easel/internal/generation"
	"github.com/inkworks/easel/internal/session"
	"github.com/inkworks/easel/internal/studio"
)

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8090", "base URL for the studio backend")
	token := fs.String("token", os.Getenv("EASEL_API_TOKEN"), "Bearer token for API auth")
	count := fs.Int("count", 1, "number of images to request")
	albumID := fs.String("album", "", "existing album id (omit to create one)")
	connectTimeout := fs.Duration("connect-timeout", 30*time.Second, "stream connect timeout")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall job timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: easel generate [flags] <prompt>")
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token is required (use --token or EASEL_API_TOKEN)")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := studio.NewClient(*apiBase, *token, logger)

	store := gallery.NewStore(0, nil, nil)
	tracker := session.NewTracker(store, logger)

	done := make(chan error, 1)
	cb := generation.Callbacks{
		OnEntityAppended: func(e gallery.Entity) {
			if e.Kind == gallery.KindMessage {
				fmt.Printf("message  %s\n", e.Description)
				return
			}
			fmt.Printf("entity   %s %s\n", e.ID, e.Status)
		},
		OnEntityUpdated: func(id string, patch gallery.Patch) {
			if patch.Status == nil {
				return
			}
			line := fmt.Sprintf("entity   %s %s", id, *patch.Status)
			if patch.URL != nil && *patch.URL != "" {
				line += " " + *patch.URL
			}
			fmt.Println(line)
		},
		OnProgress: func(jobID string, ev event.Canonical) {
			fmt.Printf("progress %s %d%%\n", ev.Status, ev.Progress)
		},
		OnSessionComplete: func(jobID string) {
			done <- nil
		},
		OnSessionError: func(jobID, message string) {
			done <- errors.New(message)
		},
	}

	mgr := generation.NewManager(client, tracker, store, cb, *connectTimeout, logger)
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	jobID, err := mgr.Generate(ctx, generation.SubmitRequest{
		Prompt:  prompt,
		Count:   *count,
		AlbumID: *albumID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("job      %s\n", jobID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("generation failed: %s", err)
		}
	case sig := <-sigCh:
		return fmt.Errorf("interrupted by %s", sig)
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s", *timeout)
	}

	for _, e := range store.Gallery().Snapshot() {
		if e.URL != "" {
			fmt.Println(e.URL)
		}
	}
	return nil
}
