package audio

import (
	"encoding/binary"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Raw capture format: interleaved little-endian signed 16-bit PCM.
const (
	SampleRate     = 48000
	Channels       = 2
	BitDepth       = 16
	BytesPerSample = BitDepth / 8
	BytesPerSecond = SampleRate * Channels * BytesPerSample // 192000
	FrameDuration  = 20 * time.Millisecond
	FrameSize      = 960                  // samples per channel per 20ms frame
	FrameSamples   = FrameSize * Channels // total interleaved samples per frame
	FrameBytes     = FrameSamples * BytesPerSample

	// RawFormat is the ffmpeg demuxer name for the raw format.
	RawFormat = "s16le"
	// RawExt is the file extension of raw segment files.
	RawExt = ".pcm"

	// MaxNameBytes is the longest file name common filesystems accept.
	MaxNameBytes = 255
)

// Seconds returns the exact playback length of n bytes of raw audio.
func Seconds(n int64) float64 {
	return float64(n) / float64(BytesPerSecond)
}

var unsafeName = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeName makes an identifier safe to embed in a file name.
func SanitizeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	if strings.HasPrefix(s, ".") {
		s = "_" + strings.TrimLeft(s, ".")
	}
	if strings.HasSuffix(s, ".") {
		s = strings.TrimRight(s, ".") + "_"
	}
	return truncate(s, MaxNameBytes)
}

// FitName shortens base so that base+suffix is at most MaxNameBytes long.
// The suffix is kept whole and the cut never splits a UTF-8 sequence.
func FitName(base, suffix string) string {
	return truncate(base, MaxNameBytes-len(suffix)) + suffix
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
