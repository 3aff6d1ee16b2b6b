package voice

import (
	"io"
	"sync"
	"time"
)

// packetBuffer is ~5 seconds of 20ms Opus packets.
const packetBuffer = 256

// packetStream is a Stream fed by the room. It ends after a period with no
// pushed packets, or when closed.
type packetStream struct {
	packets chan []byte
	done    chan struct{}
	once    sync.Once
	silence time.Duration
	timer   *time.Timer
	onClose func(*packetStream)
}

func newPacketStream(silence time.Duration, onClose func(*packetStream)) *packetStream {
	s := &packetStream{
		packets: make(chan []byte, packetBuffer),
		done:    make(chan struct{}),
		silence: silence,
		onClose: onClose,
	}
	// The callback reads s.timer through Close, so arm only after assigning.
	s.timer = time.AfterFunc(time.Hour, func() { s.Close() })
	s.timer.Stop()
	s.timer.Reset(silence)
	return s
}

// push queues a packet and restarts the silence window. A reader that falls
// more than packetBuffer packets behind loses audio instead of stalling the room.
func (s *packetStream) push(p []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	s.timer.Reset(s.silence)
	select {
	case s.packets <- p:
	default:
	}
}

func (s *packetStream) ReadPacket() ([]byte, error) {
	select {
	case p := <-s.packets:
		return p, nil
	case <-s.done:
	}
	// Drain what arrived before the stream ended.
	select {
	case p := <-s.packets:
		return p, nil
	default:
		return nil, io.EOF
	}
}

func (s *packetStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.timer.Stop()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return nil
}
