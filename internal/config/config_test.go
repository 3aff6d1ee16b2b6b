package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	ConfigFileEnv,
	"VOXREC_PORT", "VOXREC_BACKEND_URL", "VOXREC_BACKEND_TIMEOUT",
	"VOXREC_BACKEND_UPLOAD_TIMEOUT", "VOXREC_RECORDINGS_DIR", "VOXREC_OUTPUT_DIR",
	"VOXREC_CONNECT_TIMEOUT", "VOXREC_SILENCE_WINDOW", "VOXREC_STUN_SERVERS",
	"VOXREC_FFMPEG", "VOXREC_CODEC", "VOXREC_ENCODED_EXT",
	"VOXREC_SILENCE_THRESHOLD_DB", "VOXREC_SILENCE_MIN_DURATION",
	"VOXREC_LOG_LEVEL", "VOXREC_LOG_JSON",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		// t.Setenv restores the previous value after the test.
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Backend.URL != "http://localhost:3000" {
		t.Errorf("Backend.URL = %q, want default", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 30*time.Second {
		t.Errorf("Backend.Timeout = %v, want 30s", cfg.Backend.Timeout)
	}
	if cfg.Backend.UploadTimeout != 2*time.Minute {
		t.Errorf("Backend.UploadTimeout = %v, want 2m", cfg.Backend.UploadTimeout)
	}
	if cfg.RecordingsDir != "recordings" {
		t.Errorf("RecordingsDir = %q, want 'recordings'", cfg.RecordingsDir)
	}
	if cfg.OutputDir != "output" {
		t.Errorf("OutputDir = %q, want 'output'", cfg.OutputDir)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want 30s", cfg.ConnectTimeout)
	}
	if cfg.SilenceWindow != 100*time.Millisecond {
		t.Errorf("SilenceWindow = %v, want 100ms", cfg.SilenceWindow)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want 'ffmpeg'", cfg.FFmpegPath)
	}
	if cfg.Codec != "libopus" || cfg.EncodedExt != "ogg" {
		t.Errorf("Codec/EncodedExt = %q/%q, want libopus/ogg", cfg.Codec, cfg.EncodedExt)
	}
	if cfg.SilenceDB != -50 {
		t.Errorf("SilenceDB = %v, want -50", cfg.SilenceDB)
	}
	if cfg.SilenceMin != 3*time.Second {
		t.Errorf("SilenceMin = %v, want 3s", cfg.SilenceMin)
	}
	if cfg.LogLevel != "info" || cfg.LogJSON {
		t.Errorf("LogLevel/LogJSON = %q/%v, want info/false", cfg.LogLevel, cfg.LogJSON)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOXREC_PORT", "9090")
	t.Setenv("VOXREC_BACKEND_URL", "http://web:3003")
	t.Setenv("VOXREC_CONNECT_TIMEOUT", "5s")
	t.Setenv("VOXREC_SILENCE_WINDOW", "250ms")
	t.Setenv("VOXREC_STUN_SERVERS", "stun:a.example:3478,stun:b.example:3478")
	t.Setenv("VOXREC_SILENCE_THRESHOLD_DB", "-40.5")
	t.Setenv("VOXREC_LOG_JSON", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Backend.URL != "http://web:3003" {
		t.Errorf("Backend.URL = %q, want env override", cfg.Backend.URL)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.SilenceWindow != 250*time.Millisecond {
		t.Errorf("SilenceWindow = %v, want 250ms", cfg.SilenceWindow)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[1] != "stun:b.example:3478" {
		t.Errorf("STUNServers = %v, want two entries", cfg.STUNServers)
	}
	if cfg.SilenceDB != -40.5 {
		t.Errorf("SilenceDB = %v, want -40.5", cfg.SilenceDB)
	}
	if !cfg.LogJSON {
		t.Error("LogJSON = false, want true")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "voxrec.yaml")
	body := "port: 7070\noutput_dir: /srv/out\nbackend:\n  url: http://api:4000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070 from file", cfg.Port)
	}
	if cfg.OutputDir != "/srv/out" {
		t.Errorf("OutputDir = %q, want /srv/out", cfg.OutputDir)
	}
	if cfg.Backend.URL != "http://api:4000" {
		t.Errorf("Backend.URL = %q, want file value", cfg.Backend.URL)
	}
	if cfg.RecordingsDir != "recordings" {
		t.Errorf("RecordingsDir = %q, want default when absent from file", cfg.RecordingsDir)
	}
}

func TestLoadRejectsPositiveThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOXREC_SILENCE_THRESHOLD_DB", "3")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted a positive silence threshold")
	}
}

func TestLoadRejectsZeroConnectTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOXREC_CONNECT_TIMEOUT", "0s")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted a zero connect timeout")
	}
}
