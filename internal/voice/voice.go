// Package voice is the boundary to the voice transport: joining a room,
// observing who is speaking, and receiving one speaker's audio at a time.
package voice

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a destroyed connection or an ended stream.
var ErrClosed = errors.New("voice: closed")

// Member is one occupant of a voice room.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Bot         bool   `json:"bot"`
}

// Room identifies the voice channel to record. ID is the registry key
// (one recording per room); ChannelID is the specific voice channel.
type Room struct {
	ID        string
	ChannelID string
	Name      string
	Members   []Member
}

type SpeechKind int

const (
	SpeechStarted SpeechKind = iota
	SpeechEnded
)

func (k SpeechKind) String() string {
	if k == SpeechStarted {
		return "started"
	}
	return "ended"
}

// SpeechEvent reports a change in one participant's speaking state.
type SpeechEvent struct {
	Kind          SpeechKind
	RoomID        string
	ParticipantID string
	At            time.Time
}

// Gateway establishes voice connections.
type Gateway interface {
	// Join connects to the room's voice channel. It blocks until the
	// connection is ready or ctx is done.
	Join(ctx context.Context, room Room) (Connection, error)
}

// Connection is an established voice connection. It is owned by exactly
// one recording and destroyed once.
type Connection interface {
	// Speaking delivers speech activity for every participant in the room.
	Speaking() <-chan SpeechEvent
	// Subscribe opens a packet stream for one participant that ends by
	// itself after the given period without audio.
	Subscribe(participantID string, afterSilence time.Duration) (Stream, error)
	// Destroy tears down the connection and ends every open stream.
	Destroy()
}

// Stream is a single participant's audio, one Opus packet at a time.
type Stream interface {
	// ReadPacket blocks for the next packet. It returns io.EOF once the
	// silence window elapses or the stream is closed.
	ReadPacket() ([]byte, error)
	Close() error
}
