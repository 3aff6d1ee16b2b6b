// Package assembler encodes a meeting's raw segments into per-participant
// tracks and one whole-meeting track, both with long silences removed.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/satindergrewal/voxrec/internal/audio"
	"github.com/satindergrewal/voxrec/internal/timeline"
)

type Options struct {
	// RecordingsDir holds one raw segment directory per meeting.
	RecordingsDir string
	// OutputDir receives one output directory per meeting.
	OutputDir string
	Codec     string
	Ext       string
	Silence   timeline.SilencePolicy
}

// Result lists what Process produced.
type Result struct {
	Manifest     timeline.Manifest
	ManifestPath string
	// Tracks are the per-participant files that encoded successfully.
	Tracks []string
	// Meeting is the whole-meeting track, empty when nobody spoke.
	Meeting string
}

// Files is every produced audio file, meeting track last.
func (r *Result) Files() []string {
	files := append([]string(nil), r.Tracks...)
	if r.Meeting != "" {
		files = append(files, r.Meeting)
	}
	return files
}

type Assembler struct {
	tc   Transcoder
	opts Options
	log  *slog.Logger
}

func New(tc Transcoder, opts Options, log *slog.Logger) *Assembler {
	return &Assembler{tc: tc, opts: opts, log: log}
}

// SegmentDir is where a meeting's raw segments are captured.
func (a *Assembler) SegmentDir(meetingID string) string {
	return filepath.Join(a.opts.RecordingsDir, audio.SanitizeName(meetingID))
}

func (a *Assembler) outputDir(meetingID string) string {
	return filepath.Join(a.opts.OutputDir, audio.SanitizeName(meetingID))
}

// WriteTimeline builds the meeting timeline and persists its manifest.
func (a *Assembler) WriteTimeline(meetingID string, participants []timeline.Participant) (timeline.Manifest, string, error) {
	entries, err := timeline.Build(a.SegmentDir(meetingID), participants)
	if err != nil {
		return timeline.Manifest{}, "", fmt.Errorf("build timeline: %w", err)
	}
	m := timeline.NewManifest(entries, a.opts.Silence)
	path := filepath.Join(a.outputDir(meetingID), timeline.ManifestName)
	if err := timeline.WriteManifest(path, m); err != nil {
		return m, "", err
	}
	return m, path, nil
}

// Process runs the whole post-capture pipeline for a meeting. The manifest
// is written before any encoding. A participant track that fails is
// skipped; a whole-meeting failure is returned and leaves the raw segments
// in place.
func (a *Assembler) Process(ctx context.Context, meetingID string, participants []timeline.Participant) (*Result, error) {
	log := a.log.With(slog.String("meeting_id", meetingID))

	m, manifestPath, err := a.WriteTimeline(meetingID, participants)
	if err != nil {
		return nil, err
	}
	res := &Result{Manifest: m, ManifestPath: manifestPath}
	log.Info("timeline written",
		slog.String("path", manifestPath),
		slog.Int("segments", len(m.Segments)),
		slog.Float64("seconds", m.TotalDuration()))

	outDir := a.outputDir(meetingID)
	for _, p := range participants {
		track, err := a.participantTrack(ctx, outDir, p, m.Segments)
		if err != nil {
			log.Warn("participant track skipped",
				slog.String("participant_id", p.ID),
				slog.String("error", err.Error()))
			continue
		}
		if track != "" {
			log.Info("participant track encoded", slog.String("participant_id", p.ID), slog.String("path", track))
			res.Tracks = append(res.Tracks, track)
		}
	}

	meeting, err := a.meetingTrack(ctx, outDir, meetingID, m.Segments)
	if err != nil {
		return res, err
	}
	res.Meeting = meeting
	if meeting != "" {
		log.Info("meeting track encoded", slog.String("path", meeting))
	}

	a.removeSegments(log, a.SegmentDir(meetingID))
	return res, nil
}

// participantTrack concatenates one participant's segments in timeline
// order and encodes them in a single pass. It returns "" if the
// participant never spoke.
func (a *Assembler) participantTrack(ctx context.Context, outDir string, p timeline.Participant, entries []timeline.Entry) (string, error) {
	var inputs []string
	for _, e := range entries {
		if e.ParticipantID == p.ID {
			inputs = append(inputs, e.Path)
		}
	}
	if len(inputs) == 0 {
		return "", nil
	}

	out := filepath.Join(outDir, audio.FitName(
		audio.SanitizeName(p.ID)+"-"+audio.SanitizeName(p.DisplayName), "."+a.opts.Ext))

	var args, labels []string
	for i, in := range inputs {
		args = append(args, rawInput(in)...)
		labels = append(labels, "["+strconv.Itoa(i)+":a]")
	}
	filter := strings.Join(labels, "") +
		fmt.Sprintf("concat=n=%d:v=0:a=1,%s[out]", len(inputs), a.silenceFilter())
	args = append(args,
		"-filter_complex", filter,
		"-map", "[out]",
		"-c:a", a.opts.Codec,
		"-y", out,
	)
	if err := a.tc.Transcode(ctx, args); err != nil {
		return "", err
	}
	return out, nil
}

// meetingTrack encodes every entry to its own chunk, then joins the chunks
// in timeline order without re-encoding. Chunks are kept if anything fails.
func (a *Assembler) meetingTrack(ctx context.Context, outDir, meetingID string, entries []timeline.Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(outDir, ".chunks-*")
	if err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}

	var list strings.Builder
	for i, e := range entries {
		chunk := filepath.Join(tmpDir, fmt.Sprintf("%05d.%s", i, a.opts.Ext))
		args := append(rawInput(e.Path),
			"-af", a.silenceFilter(),
			"-c:a", a.opts.Codec,
			"-y", chunk,
		)
		if err := a.tc.Transcode(ctx, args); err != nil {
			return "", fmt.Errorf("encode chunk %s: %w", e.Source, err)
		}
		abs, err := filepath.Abs(chunk)
		if err != nil {
			return "", fmt.Errorf("resolve chunk path: %w", err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	listPath := filepath.Join(tmpDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	out := filepath.Join(outDir, audio.FitName(audio.SanitizeName(meetingID), "-complete."+a.opts.Ext))
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", out,
	}
	if err := a.tc.Transcode(ctx, args); err != nil {
		return "", fmt.Errorf("concat meeting track: %w", err)
	}

	if err := os.RemoveAll(tmpDir); err != nil {
		a.log.Warn("chunk cleanup failed", slog.String("path", tmpDir), slog.String("error", err.Error()))
	}
	return out, nil
}

func (a *Assembler) silenceFilter() string {
	return fmt.Sprintf("silenceremove=stop_periods=-1:stop_duration=%s:stop_threshold=%sdB",
		strconv.FormatFloat(a.opts.Silence.MinDurationSec, 'f', -1, 64),
		strconv.FormatFloat(a.opts.Silence.ThresholdDB, 'f', -1, 64))
}

func rawInput(path string) []string {
	return []string{
		"-f", audio.RawFormat,
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", path,
	}
}

// removeSegments deletes every raw segment in dir, then dir itself if it
// ends up empty. Failures are logged.
func (a *Assembler) removeSegments(log *slog.Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		log.Error("list raw segments", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, audio.RawExt) || strings.Contains(name, "..") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Error("remove raw segment", slog.String("path", name), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	// Only succeeds when nothing else is left.
	os.Remove(dir)
	log.Info("raw segments removed", slog.Int("count", removed))
}
