// Package stream fans live speech activity out to any number of listeners.
package stream

import (
	"sync"

	"github.com/satindergrewal/voxrec/internal/voice"
)

// listenerBuffer is how many events a listener may lag before events are dropped.
const listenerBuffer = 64

// Broadcaster fans out speech events from every recording to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives speech events for one room, or for every room when
// its room id is empty.
type Listener struct {
	C      chan voice.SpeechEvent
	roomID string
	done   chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener for roomID ("" for all rooms).
func (b *Broadcaster) Subscribe(roomID string) *Listener {
	l := &Listener{
		C:      make(chan voice.SpeechEvent, listenerBuffer),
		roomID: roomID,
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice
// for the same listener is a no-op.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// Done is closed once the listener has been unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers ev to every matching listener. Slow listeners lose the
// event rather than blocking the capture path.
func (b *Broadcaster) Publish(ev voice.SpeechEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		if l.roomID != "" && l.roomID != ev.RoomID {
			continue
		}
		select {
		case l.C <- ev:
		default:
		}
	}
}
