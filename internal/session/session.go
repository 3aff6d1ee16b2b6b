package session

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/satindergrewal/voxrec/internal/capture"
	"github.com/satindergrewal/voxrec/internal/timeline"
	"github.com/satindergrewal/voxrec/internal/voice"
)

// Participant is one person observed in the room during a recording.
// Entries are kept after the person leaves.
type Participant struct {
	ID          string
	DisplayName string
	JoinedAt    time.Time
	LeftAt      *time.Time

	streams map[io.Closer]struct{}
}

// Session is the live recording of one room. The registry publishes a
// Session only once it is fully constructed.
type Session struct {
	ID        string
	MeetingID string
	RoomID    string
	ChannelID string
	RoomName  string
	StartTime time.Time

	conn        voice.Connection
	mux         *capture.Multiplexer
	stopCapture func()
	destroyOnce sync.Once

	mu           sync.Mutex
	participants map[string]*Participant
	closing      bool
}

func (s *Session) Attach(participantID string, stream io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if s.closing || !ok || p.LeftAt != nil {
		return false
	}
	p.streams[stream] = struct{}{}
	return true
}

func (s *Session) Detach(participantID string, stream io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[participantID]; ok {
		delete(p.streams, stream)
	}
}

// join records a participant. A returning participant gets a fresh entry;
// streams still open on the old one carry over.
func (s *Session) join(m voice.Member, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	p := &Participant{ID: m.ID, DisplayName: m.DisplayName, JoinedAt: at, streams: make(map[io.Closer]struct{})}
	if old, ok := s.participants[m.ID]; ok {
		for st := range old.streams {
			p.streams[st] = struct{}{}
		}
	}
	s.participants[m.ID] = p
	return true
}

// leave marks the participant as gone and returns the streams to close.
func (s *Session) leave(participantID string, at time.Time) ([]io.Closer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if s.closing || !ok || p.LeftAt != nil {
		return nil, false
	}
	p.LeftAt = &at
	return drain(p), true
}

// close refuses new streams and returns every open one.
func (s *Session) close() []io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	var out []io.Closer
	for _, p := range s.participants {
		out = append(out, drain(p)...)
	}
	return out
}

func drain(p *Participant) []io.Closer {
	out := make([]io.Closer, 0, len(p.streams))
	for st := range p.streams {
		out = append(out, st)
	}
	clear(p.streams)
	return out
}

// destroy tears down the connection exactly once.
func (s *Session) destroy() {
	s.destroyOnce.Do(s.conn.Destroy)
}

func (s *Session) timelineParticipants() []timeline.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]timeline.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, timeline.Participant{ID: p.ID, DisplayName: p.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot is a point-in-time copy of a session, safe to hand out.
type Snapshot struct {
	SessionID    string                `json:"session_id"`
	MeetingID    string                `json:"meeting_id"`
	RoomID       string                `json:"room_id"`
	ChannelID    string                `json:"channel_id"`
	RoomName     string                `json:"room_name"`
	StartTime    time.Time             `json:"start_time"`
	Elapsed      time.Duration         `json:"elapsed_ns"`
	Participants []ParticipantSnapshot `json:"participants"`
}

type ParticipantSnapshot struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	OpenStreams int        `json:"open_streams"`
}

func (s *Session) snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:    s.ID,
		MeetingID:    s.MeetingID,
		RoomID:       s.RoomID,
		ChannelID:    s.ChannelID,
		RoomName:     s.RoomName,
		StartTime:    s.StartTime,
		Elapsed:      now.Sub(s.StartTime),
		Participants: make([]ParticipantSnapshot, 0, len(s.participants)),
	}
	for _, p := range s.participants {
		ps := ParticipantSnapshot{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			JoinedAt:    p.JoinedAt,
			OpenStreams: len(p.streams),
		}
		if p.LeftAt != nil {
			left := *p.LeftAt
			ps.LeftAt = &left
		}
		snap.Participants = append(snap.Participants, ps)
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		a, b := snap.Participants[i], snap.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})
	return snap
}
