package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voxrec/internal/assembler"
	"github.com/satindergrewal/voxrec/internal/backend"
	"github.com/satindergrewal/voxrec/internal/capture"
	"github.com/satindergrewal/voxrec/internal/codec"
	"github.com/satindergrewal/voxrec/internal/httpapi"
	"github.com/satindergrewal/voxrec/internal/session"
	"github.com/satindergrewal/voxrec/internal/stream"
	"github.com/satindergrewal/voxrec/internal/voice"
)

func newServeCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), d)
		},
	}
}

func serve(parent context.Context, d *deps) error {
	cfg, log := d.cfg, d.log
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("recorder starting up",
		slog.Int("port", cfg.Port),
		slog.String("recordings_dir", cfg.RecordingsDir),
		slog.String("output_dir", cfg.OutputDir))

	ffmpeg := assembler.NewFFmpeg(cfg.FFmpegPath)
	if err := ffmpeg.Check(); err != nil {
		log.Warn("assembly will fail until ffmpeg is installed", slog.String("error", err.Error()))
	}

	hub := voice.NewHub(cfg.STUNServers, log)
	records := backend.New(cfg.Backend.URL, cfg.Backend.Timeout, cfg.Backend.UploadTimeout, log)
	events := stream.NewBroadcaster()
	registry := session.NewRegistry(hub, records, newAssembler(cfg, ffmpeg, log), session.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		SilenceWindow:  cfg.SilenceWindow,
		Observe:        events.Publish,
		NewDecoder:     func() (capture.PacketDecoder, error) { return codec.NewDecoder() },
	}, log)

	go checkPending(ctx, records, log)

	handler := httpapi.NewHandler(registry, hub, stream.NewSSEHandler(events, log))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpapi.NewRouter(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", slog.String("error", err.Error()))
		}
	}()

	log.Info("recorder live", slog.String("addr", server.Addr))
	err := server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	// Recordings still running are stopped so their audio is assembled.
	for _, roomID := range registry.ActiveRooms() {
		if err := registry.Stop(context.Background(), roomID); err != nil {
			log.Error("stop recording on shutdown",
				slog.String("room_id", roomID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func checkPending(ctx context.Context, records *backend.Client, log *slog.Logger) {
	report, err := records.CheckPending(ctx)
	if err != nil {
		log.Warn("pending meeting check failed", slog.String("error", err.Error()))
		return
	}
	if report.TotalPending == 0 {
		return
	}
	for _, m := range report.StaleMeetings {
		log.Warn("stale meeting", slog.String("meeting_id", m.ID), slog.String("status", m.Status))
	}
	for _, m := range report.UnprocessedMeetings {
		log.Warn("meeting without recordings", slog.String("meeting_id", m.ID))
	}
	log.Info("pending meetings found", slog.Int("total", report.TotalPending))
}
