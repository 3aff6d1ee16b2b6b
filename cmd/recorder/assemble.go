package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voxrec/internal/assembler"
	"github.com/satindergrewal/voxrec/internal/backend"
	"github.com/satindergrewal/voxrec/internal/timeline"
)

func newAssembleCmd(d *deps) *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "assemble <meeting-id>",
		Short: "Assemble a meeting from segments left on disk",
		Long: "Re-runs timeline building and audio assembly over a meeting's raw segment " +
			"directory, e.g. after a failed stop. Participants are taken from the segment file names.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meetingID := args[0]
			ffmpeg := assembler.NewFFmpeg(d.cfg.FFmpegPath)
			if err := ffmpeg.Check(); err != nil {
				return err
			}
			asm := newAssembler(d.cfg, ffmpeg, d.log)

			participants, err := timeline.DiscoverParticipants(asm.SegmentDir(meetingID))
			if err != nil {
				return fmt.Errorf("discover participants: %w", err)
			}
			if len(participants) == 0 {
				return fmt.Errorf("no segments found for meeting %s", meetingID)
			}

			res, err := asm.Process(cmd.Context(), meetingID, participants)
			if err != nil {
				return fmt.Errorf("assemble meeting: %w", err)
			}
			for _, f := range res.Files() {
				fmt.Fprintln(os.Stdout, f)
			}
			if upload {
				return uploadResult(cmd.Context(), d, meetingID, res)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the produced files and mark the meeting completed")
	return cmd
}

func uploadResult(ctx context.Context, d *deps, meetingID string, res *assembler.Result) error {
	records := backend.New(d.cfg.Backend.URL, d.cfg.Backend.Timeout, d.cfg.Backend.UploadTimeout, d.log)
	failed := 0
	for _, f := range res.Files() {
		if err := records.UploadRecording(ctx, meetingID, f); err != nil {
			d.log.Error("upload failed", slog.String("path", f), slog.String("error", err.Error()))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(res.Files()))
	}
	return records.UpdateMeetingStatus(ctx, meetingID, backend.StatusUpdate{Status: backend.StatusCompleted})
}

func newTimelineCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <meeting-id>",
		Short: "Write a meeting's timeline manifest without encoding audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meetingID := args[0]
			asm := newAssembler(d.cfg, assembler.NewFFmpeg(d.cfg.FFmpegPath), d.log)

			participants, err := timeline.DiscoverParticipants(asm.SegmentDir(meetingID))
			if err != nil {
				return fmt.Errorf("discover participants: %w", err)
			}
			m, path, err := asm.WriteTimeline(meetingID, participants)
			if err != nil {
				return err
			}
			for _, e := range m.Segments {
				fmt.Fprintf(os.Stdout, "%9s  %9s  %-20s %s\n",
					formatSeconds(e.Start), formatSeconds(e.End), e.ParticipantID, e.Source)
			}
			fmt.Fprintf(os.Stdout, "%d segments, %s total, manifest %s\n",
				len(m.Segments), formatSeconds(m.TotalDuration()), path)
			return nil
		},
	}
}
