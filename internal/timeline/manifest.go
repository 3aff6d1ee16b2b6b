package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/satindergrewal/voxrec/internal/audio"
)

// ManifestName is the manifest's file name inside a meeting's output dir.
const ManifestName = "segments.json"

// SilencePolicy is the silence-removal setting applied to every encode.
type SilencePolicy struct {
	ThresholdDB    float64 `json:"thresholdDb"`
	MinDurationSec float64 `json:"minDurationSec"`
}

// Manifest describes a meeting's timeline and how its audio was produced.
type Manifest struct {
	SampleRate     int           `json:"sampleRate"`
	Channels       int           `json:"channels"`
	Format         string        `json:"format"`
	SilenceRemoved SilencePolicy `json:"silenceRemoved"`
	Segments       []Entry       `json:"segments"`
}

func NewManifest(entries []Entry, policy SilencePolicy) Manifest {
	if entries == nil {
		entries = []Entry{}
	}
	return Manifest{
		SampleRate:     audio.SampleRate,
		Channels:       audio.Channels,
		Format:         audio.RawFormat,
		SilenceRemoved: policy,
		Segments:       entries,
	}
}

// TotalDuration is the sum of all entry durations, which is also the end
// of the last entry.
func (m Manifest) TotalDuration() float64 {
	if len(m.Segments) == 0 {
		return 0
	}
	return m.Segments[len(m.Segments)-1].End
}

// WriteManifest atomically replaces path with the indented manifest.
func WriteManifest(path string, m Manifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
