package assembler

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/voxrec/internal/audio"
	"github.com/satindergrewal/voxrec/internal/timeline"
	"github.com/satindergrewal/voxrec/pkg/logger"
)

// fakeTranscoder records each call and writes the output file named by the
// last argument. fail decides whether a call errors.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(args []string) error
	// before runs ahead of every call, e.g. to inspect the filesystem.
	before func(args []string)
}

func (f *fakeTranscoder) Transcode(_ context.Context, args []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.before != nil {
		f.before(args)
	}
	if f.fail != nil {
		if err := f.fail(args); err != nil {
			return err
		}
	}
	return os.WriteFile(args[len(args)-1], []byte("encoded"), 0o644)
}

func has(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	a      *Assembler
	tc     *fakeTranscoder
	rec    string
	out    string
	people []timeline.Participant
}

// newFixture lays out a meeting "m1" where alice speaks, then bob, then
// alice again. carol never speaks.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		tc:  &fakeTranscoder{},
		rec: filepath.Join(root, "recordings"),
		out: filepath.Join(root, "output"),
		people: []timeline.Participant{
			{ID: "alice", DisplayName: "Alice"},
			{ID: "bob", DisplayName: "Bob"},
			{ID: "carol", DisplayName: "Carol"},
		},
	}
	f.a = New(f.tc, Options{
		RecordingsDir: f.rec,
		OutputDir:     f.out,
		Codec:         "libopus",
		Ext:           "ogg",
		Silence:       timeline.SilencePolicy{ThresholdDB: -50, MinDurationSec: 3},
	}, logger.Discard())

	dir := f.a.SegmentDir("m1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"alice-1.pcm", "bob-2.pcm", "alice-3.pcm"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, make([]byte, 192000), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := t0.Add(time.Duration(i) * time.Second)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) rawLeft(t *testing.T) int {
	t.Helper()
	files, _ := filepath.Glob(filepath.Join(f.a.SegmentDir("m1"), "*.pcm"))
	return len(files)
}

func TestProcessProducesTracks(t *testing.T) {
	f := newFixture(t)

	res, err := f.a.Process(context.Background(), "m1", f.people)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	outDir := filepath.Join(f.out, "m1")
	wantTracks := []string{
		filepath.Join(outDir, "alice-Alice.ogg"),
		filepath.Join(outDir, "bob-Bob.ogg"),
	}
	if len(res.Tracks) != len(wantTracks) {
		t.Fatalf("tracks = %v, want %v", res.Tracks, wantTracks)
	}
	for i := range wantTracks {
		if res.Tracks[i] != wantTracks[i] {
			t.Errorf("track[%d] = %s, want %s", i, res.Tracks[i], wantTracks[i])
		}
	}
	if res.Meeting != filepath.Join(outDir, "m1-complete.ogg") {
		t.Errorf("meeting = %s", res.Meeting)
	}
	if files := res.Files(); len(files) != 3 || files[2] != res.Meeting {
		t.Errorf("Files() = %v, want tracks then meeting", files)
	}
	if res.ManifestPath != filepath.Join(outDir, "segments.json") {
		t.Errorf("manifest path = %s", res.ManifestPath)
	}
	if got := res.Manifest.TotalDuration(); got != 3 {
		t.Errorf("total duration = %v, want 3", got)
	}

	// alice's two segments go into one encode with a concat + silence filter.
	alice := f.tc.calls[0]
	for _, want := range []string{
		"[0:a][1:a]concat=n=2:v=0:a=1,silenceremove=stop_periods=-1:stop_duration=3:stop_threshold=-50dB[out]",
		"libopus",
		filepath.Join(f.a.SegmentDir("m1"), "alice-1.pcm"),
		filepath.Join(f.a.SegmentDir("m1"), "alice-3.pcm"),
	} {
		if !has(alice, want) {
			t.Errorf("alice encode args %v missing %q", alice, want)
		}
	}

	// 2 participant tracks + 3 chunks + 1 concat; carol produces no call.
	if len(f.tc.calls) != 6 {
		t.Errorf("transcoder called %d times, want 6", len(f.tc.calls))
	}
	concat := f.tc.calls[len(f.tc.calls)-1]
	if !has(concat, "copy") || !has(concat, "concat") {
		t.Errorf("final call %v is not a lossless concat", concat)
	}

	if n := f.rawLeft(t); n != 0 {
		t.Errorf("%d raw segments left after success", n)
	}
	chunks, _ := filepath.Glob(filepath.Join(outDir, ".chunks-*"))
	if len(chunks) != 0 {
		t.Errorf("chunk dirs left after success: %v", chunks)
	}
}

func TestProcessChunksFollowTimeline(t *testing.T) {
	f := newFixture(t)
	var list string
	f.tc.before = func(args []string) {
		if has(args, "concat") && has(args, "copy") {
			for i, a := range args {
				if a == "-i" {
					b, _ := os.ReadFile(args[i+1])
					list = string(b)
				}
			}
		}
	}
	if _, err := f.a.Process(context.Background(), "m1", f.people); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Chunk i encodes entry i.
	var chunkInputs []string
	for _, c := range f.tc.calls {
		if has(c, "-af") {
			for i, a := range c {
				if a == "-i" {
					chunkInputs = append(chunkInputs, filepath.Base(c[i+1]))
				}
			}
		}
	}
	want := []string{"alice-1.pcm", "bob-2.pcm", "alice-3.pcm"}
	if strings.Join(chunkInputs, ",") != strings.Join(want, ",") {
		t.Errorf("chunk order = %v, want %v", chunkInputs, want)
	}

	lines := strings.Split(strings.TrimSpace(list), "\n")
	if len(lines) != 3 {
		t.Fatalf("concat list = %q", list)
	}
	for i, l := range lines {
		if !strings.HasPrefix(l, "file '") || !strings.Contains(l, []string{"00000", "00001", "00002"}[i]) {
			t.Errorf("concat line %d = %q", i, l)
		}
	}
}

func TestManifestWrittenBeforeEncoding(t *testing.T) {
	f := newFixture(t)
	manifest := filepath.Join(f.out, "m1", timeline.ManifestName)
	seen := false
	f.tc.before = func([]string) {
		if _, err := os.Stat(manifest); err == nil {
			seen = true
		}
	}
	if _, err := f.a.Process(context.Background(), "m1", f.people); err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("manifest did not exist when encoding started")
	}
}

func TestParticipantFailureSkipped(t *testing.T) {
	f := newFixture(t)
	f.tc.fail = func(args []string) error {
		if has(args, "-filter_complex") && strings.HasSuffix(args[len(args)-1], "bob-Bob.ogg") {
			return &ToolError{Tool: "ffmpeg", ExitCode: 1, Stderr: "boom", Err: errors.New("exit status 1")}
		}
		return nil
	}

	res, err := f.a.Process(context.Background(), "m1", f.people)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Tracks) != 1 || res.Meeting == "" {
		t.Errorf("tracks = %v, meeting = %q; want alice only plus meeting", res.Tracks, res.Meeting)
	}
	if n := f.rawLeft(t); n != 0 {
		t.Errorf("%d raw segments left", n)
	}
}

func TestMeetingFailureKeepsSegments(t *testing.T) {
	f := newFixture(t)
	f.tc.fail = func(args []string) error {
		if has(args, "copy") {
			return &ToolError{Tool: "ffmpeg", Args: args, ExitCode: 1, Stderr: "Invalid data found\n", Err: errors.New("exit status 1")}
		}
		return nil
	}

	_, err := f.a.Process(context.Background(), "m1", f.people)
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("Process err = %v, want ToolError", err)
	}
	if te.ExitCode != 1 || !strings.Contains(te.Error(), "Invalid data found") {
		t.Errorf("ToolError = %v (code %d)", te, te.ExitCode)
	}
	if n := f.rawLeft(t); n != 3 {
		t.Errorf("raw segments left = %d, want 3", n)
	}
	chunks, _ := filepath.Glob(filepath.Join(f.out, "m1", ".chunks-*"))
	if len(chunks) != 1 {
		t.Errorf("chunk dir should remain for diagnosis, got %v", chunks)
	}
}

func TestChunkFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.tc.fail = func(args []string) error {
		if has(args, "-af") {
			return &ToolError{Tool: "ffmpeg", ExitCode: 69, Err: errors.New("exit status 69")}
		}
		return nil
	}
	_, err := f.a.Process(context.Background(), "m1", f.people)
	if err == nil || !strings.Contains(err.Error(), "alice-1.pcm") {
		t.Errorf("Process err = %v, want failure naming the first chunk", err)
	}
	if n := f.rawLeft(t); n != 3 {
		t.Errorf("raw segments left = %d, want 3", n)
	}
}

func TestProcessNoSegments(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Process(context.Background(), "empty", f.people)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Meeting != "" || len(res.Tracks) != 0 || len(f.tc.calls) != 0 {
		t.Errorf("result = %+v with %d calls, want nothing", res, len(f.tc.calls))
	}
	if _, err := os.Stat(res.ManifestPath); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
}

func TestSanitizedOutputNames(t *testing.T) {
	f := newFixture(t)
	people := []timeline.Participant{{ID: "alice", DisplayName: "A/l:i*ce"}}
	res, err := f.a.Process(context.Background(), "m1", people)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(res.Tracks[0]) != "alice-A_l_i_ce.ogg" {
		t.Errorf("track = %s", res.Tracks[0])
	}
}

func TestLongOutputNamesFit(t *testing.T) {
	f := newFixture(t)
	people := []timeline.Participant{{ID: "alice", DisplayName: strings.Repeat("n", 300)}}
	res, err := f.a.Process(context.Background(), "m1", people)
	if err != nil {
		t.Fatal(err)
	}
	name := filepath.Base(res.Tracks[0])
	if len(name) > audio.MaxNameBytes || !strings.HasPrefix(name, "alice-") || !strings.HasSuffix(name, ".ogg") {
		t.Errorf("track name = %q (%d bytes)", name, len(name))
	}
}

func TestFFmpegToolErrorExitCode(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	err = NewFFmpeg(bin).Transcode(context.Background(), []string{"-i", "x"})
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want ToolError", err)
	}
	if te.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", te.ExitCode)
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	f := NewFFmpeg(filepath.Join(t.TempDir(), "no-ffmpeg"))
	if err := f.Check(); err == nil {
		t.Error("Check succeeded for a missing binary")
	}
	err := f.Transcode(context.Background(), nil)
	var te *ToolError
	if !errors.As(err, &te) || te.ExitCode != -1 {
		t.Errorf("err = %v, want ToolError with code -1", err)
	}
}
