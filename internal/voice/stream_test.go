package voice

import (
	"io"
	"sync"
	"testing"
	"time"
)

func TestPacketStreamTinySilenceWindow(t *testing.T) {
	const n = 2000
	var closed sync.WaitGroup
	closed.Add(2 * n)
	for i := 0; i < n; i++ {
		s := newPacketStream(time.Nanosecond, func(*packetStream) { closed.Done() })
		go func() {
			defer closed.Done()
			if _, err := s.ReadPacket(); err != io.EOF {
				t.Errorf("ReadPacket err = %v, want io.EOF", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		closed.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("streams did not end after their silence window")
	}
}

func TestPacketStreamPushExtendsWindow(t *testing.T) {
	s := newPacketStream(250*time.Millisecond, nil)
	defer s.Close()

	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		s.push([]byte{byte(i)})
	}
	for i := 0; i < 5; i++ {
		p, err := s.ReadPacket()
		if err != nil || p[0] != byte(i) {
			t.Fatalf("packet %d = %v, %v", i, p, err)
		}
	}
}
