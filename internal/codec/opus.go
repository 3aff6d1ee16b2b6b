// Package codec decodes compressed voice packets into the raw capture format.
// It links libopus through cgo; packages that only need the format constants
// import internal/audio instead.
package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/voxrec/internal/audio"
)

// maxPacketSamples covers the longest Opus packet (120ms) per channel.
const maxPacketSamples = audio.SampleRate * 120 / 1000

// Decoder turns Opus packets from a voice stream into raw PCM.
// A Decoder carries codec state and must not be shared between speakers.
type Decoder struct {
	dec *opus.Decoder
	pcm []int16
}

// NewDecoder creates a 48kHz stereo Opus decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &Decoder{
		dec: dec,
		pcm: make([]int16, maxPacketSamples*audio.Channels),
	}, nil
}

// Decode decodes one Opus packet and returns its interleaved PCM bytes.
// The returned slice is freshly allocated.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return audio.SamplesToBytes(d.pcm[:n*audio.Channels]), nil
}
