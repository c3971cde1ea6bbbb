// Package main runs the in-memory fake of the video-processing service for
// local development: `clipq-mockserver -port 8980`, then point clipq at
// http://localhost:8980.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbaumer/clipq/internal/mockserver"
	"github.com/mbaumer/clipq/pkg/models"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("mockserver failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.Int("port", 8980, "listen port")
	tick := flag.Duration("tick", 2*time.Second, "simulated processing tick")
	seed := flag.Bool("seed", true, "seed a few demo jobs")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := mockserver.New()
	srv.SetBaseURL(fmt.Sprintf("http://localhost:%d", *port))

	if *seed {
		seedJobs(srv)
	}

	// Advance simulated processing in the background.
	go func() {
		ticker := time.NewTicker(*tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Step(7)
			case <-ctx.Done():
				return
			}
		}
	}()

	addr := fmt.Sprintf(":%d", *port)
	httpSrv := &http.Server{
		Addr:        addr,
		Handler:     srv.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mockserver listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func seedJobs(srv *mockserver.Server) {
	now := time.Now().UTC()
	srv.Seed(models.Job{
		ID: "demo-1", Status: models.StatusProcessing, ProgressPct: 35,
		Source: models.SourceURL, SourceURL: "https://example.test/talks/keynote.mp4",
		Title: "Conference keynote", CreatedAt: now.Add(-10 * time.Minute),
	})
	srv.Seed(models.Job{
		ID: "demo-2", Status: models.StatusCompleted, ProgressPct: 100,
		Source: models.SourceFile, Filename: "interview.mov",
		Title: "Interview raw cut", CreatedAt: now.Add(-2 * time.Hour),
	})
	srv.Seed(models.Job{
		ID: "demo-3", Status: models.StatusQueued,
		Source: models.SourceURL, SourceURL: "https://example.test/streams/live-42",
		Title: "Live capture", IsFlagged: true, FlagNote: "check rights",
		CreatedAt: now.Add(-1 * time.Minute),
	})
}
