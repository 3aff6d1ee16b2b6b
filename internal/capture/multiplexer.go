// Package capture turns a room's speech activity into per-speaker segment files.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/satindergrewal/voxrec/internal/audio"
	"github.com/satindergrewal/voxrec/internal/voice"
)

var (
	ErrDecode    = errors.New("decode failed")
	ErrWrite     = errors.New("write failed")
	ErrNoDecoder = errors.New("no packet decoder configured")
)

// Tracker owns the roster. Attach registers an open stream for a participant
// and reports false when the participant is unknown, has left, or the
// recording is closing; the caller must then drop the stream.
type Tracker interface {
	Attach(participantID string, s io.Closer) bool
	Detach(participantID string, s io.Closer)
}

// PacketDecoder converts one compressed packet to raw PCM bytes.
type PacketDecoder interface {
	Decode(packet []byte) ([]byte, error)
}

type Options struct {
	// Dir is the per-meeting segment directory.
	Dir string
	// SilenceWindow ends a segment after this much trailing silence.
	SilenceWindow time.Duration
	// Observe, if set, sees every speech event before it is handled.
	Observe func(voice.SpeechEvent)
	// NewDecoder creates the decoder for one capture. Required.
	NewDecoder func() (PacketDecoder, error)
}

// Multiplexer consumes a connection's speech events and runs one capture
// per SpeechStarted. Captures are independent of each other and of roster
// handling.
type Multiplexer struct {
	conn    voice.Connection
	tracker Tracker
	opts    Options
	log     *slog.Logger

	done     chan struct{}
	captures sync.WaitGroup
}

func NewMultiplexer(conn voice.Connection, tracker Tracker, opts Options, log *slog.Logger) *Multiplexer {
	return &Multiplexer{
		conn:    conn,
		tracker: tracker,
		opts:    opts,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start runs the event loop until ctx is cancelled.
func (m *Multiplexer) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-m.conn.Speaking():
				m.handle(ev)
			}
		}
	}()
}

// Wait blocks until the event loop has exited and every capture has closed
// its segment file. Cancel the Start context first.
func (m *Multiplexer) Wait() {
	<-m.done
	m.captures.Wait()
}

func (m *Multiplexer) handle(ev voice.SpeechEvent) {
	if m.opts.Observe != nil {
		m.opts.Observe(ev)
	}
	if ev.Kind != voice.SpeechStarted {
		m.log.Debug("speech ended", slog.String("participant_id", ev.ParticipantID))
		return
	}
	m.captures.Add(1)
	go func() {
		defer m.captures.Done()
		if err := m.capture(ev.ParticipantID); err != nil {
			m.log.Warn("segment capture dropped",
				slog.String("participant_id", ev.ParticipantID),
				slog.String("error", err.Error()))
		}
	}()
}

// capture records one speech burst. Errors are scoped to this burst.
func (m *Multiplexer) capture(participantID string) error {
	stream, err := m.conn.Subscribe(participantID, m.opts.SilenceWindow)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer stream.Close()

	if !m.tracker.Attach(participantID, stream) {
		m.log.Debug("speech from untracked participant ignored", slog.String("participant_id", participantID))
		return nil
	}
	defer m.tracker.Detach(participantID, stream)

	if m.opts.NewDecoder == nil {
		return ErrNoDecoder
	}
	dec, err := m.opts.NewDecoder()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	w := NewSegmentWriter(m.opts.Dir, participantID, time.Now())
	pumpErr := pump(stream, dec, w)
	closeErr := w.Close()

	if pumpErr != nil {
		return pumpErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrWrite, closeErr)
	}
	if w.Size() > 0 {
		m.log.Info("segment saved",
			slog.String("participant_id", participantID),
			slog.String("path", w.Path()),
			slog.Int64("bytes", w.Size()),
			slog.Float64("seconds", audio.Seconds(w.Size())))
	}
	return nil
}

// pump copies decoded packets into w until the stream ends.
func pump(stream voice.Stream, dec PacketDecoder, w io.Writer) error {
	for {
		packet, err := stream.ReadPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}
		pcm, err := dec.Decode(packet)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if _, err := w.Write(pcm); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
}
