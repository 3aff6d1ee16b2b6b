// Package timeline reconstructs the chronological layout of a meeting from
// its raw per-speaker segment files.
//
// The only ordering signal is each file's modification time: raw PCM has no
// embedded clock. Overlapping speech is flattened into a strict sequence.
package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/satindergrewal/voxrec/internal/audio"
)

// segmentPattern matches <participant>-<openEpochMillis>.pcm.
var segmentPattern = regexp.MustCompile(`^(.+)-(\d+)` + regexp.QuoteMeta(audio.RawExt) + `$`)

type Participant struct {
	ID          string
	DisplayName string
}

// Segment is one raw speech burst on disk.
type Segment struct {
	ParticipantID string
	Path          string
	ModTime       time.Time
	Size          int64
	Duration      float64
}

// Entry is a segment placed on the meeting timeline, in seconds from the
// start of the meeting.
type Entry struct {
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName"`
	Source        string  `json:"source"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Duration      float64 `json:"duration"`

	// Path is the segment file the entry was built from.
	Path string `json:"-"`
}

// ParticipantFiles lists the raw segment files in dir that belong to
// participantID, sorted by name. A missing dir yields no files.
func ParticipantFiles(dir, participantID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read segment dir: %w", err)
	}

	id := audio.SanitizeName(participantID)
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !safeName(name) {
			continue
		}
		// The id must be followed directly by the timestamp, so "1" does
		// not claim the files of "1-2". Long ids are shortened the same
		// way the writer shortens them.
		m := segmentPattern.FindStringSubmatch(name)
		if m == nil || audio.FitName(id, name[len(m[1]):]) != name {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func safeName(name string) bool {
	return !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}

// Scan collects every participant's segments and sorts them by
// modification time. Equal times fall back to file name so the order is
// stable across runs.
func Scan(dir string, participants []Participant) ([]Segment, error) {
	var segs []Segment
	seen := make(map[string]bool)
	for _, p := range participants {
		files, err := ParticipantFiles(dir, p.ID)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			if seen[path] {
				continue
			}
			seen[path] = true
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat segment %s: %w", filepath.Base(path), err)
			}
			segs = append(segs, Segment{
				ParticipantID: p.ID,
				Path:          path,
				ModTime:       info.ModTime(),
				Size:          info.Size(),
				Duration:      audio.Seconds(info.Size()),
			})
		}
	}

	sort.SliceStable(segs, func(i, j int) bool {
		if !segs[i].ModTime.Equal(segs[j].ModTime) {
			return segs[i].ModTime.Before(segs[j].ModTime)
		}
		return filepath.Base(segs[i].Path) < filepath.Base(segs[j].Path)
	})
	return segs, nil
}

// Layout places sorted segments back to back starting at zero. names maps
// participant id to display name.
func Layout(segs []Segment, names map[string]string) []Entry {
	entries := make([]Entry, 0, len(segs))
	cursor := 0.0
	for _, s := range segs {
		e := Entry{
			ParticipantID: s.ParticipantID,
			DisplayName:   names[s.ParticipantID],
			Source:        filepath.Base(s.Path),
			Start:         cursor,
			End:           cursor + s.Duration,
			Duration:      s.Duration,
			Path:          s.Path,
		}
		cursor = e.End
		entries = append(entries, e)
	}
	return entries
}

// Build scans dir and lays out the meeting timeline.
func Build(dir string, participants []Participant) ([]Entry, error) {
	segs, err := Scan(dir, participants)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.DisplayName
	}
	return Layout(segs, names), nil
}

// DiscoverParticipants recovers participant ids from the segment file
// names in dir. Display names are not stored on disk, so each participant's
// display name is its id.
func DiscoverParticipants(dir string) ([]Participant, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read segment dir: %w", err)
	}
	seen := make(map[string]bool)
	var out []Participant
	for _, e := range entries {
		if e.IsDir() || !safeName(e.Name()) {
			continue
		}
		m := segmentPattern.FindStringSubmatch(e.Name())
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, Participant{ID: m[1], DisplayName: m[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
