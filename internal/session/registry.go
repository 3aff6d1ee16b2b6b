// Package session keeps at most one live recording per room and runs the
// post-capture pipeline when a recording stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/voxrec/internal/assembler"
	"github.com/satindergrewal/voxrec/internal/backend"
	"github.com/satindergrewal/voxrec/internal/capture"
	"github.com/satindergrewal/voxrec/internal/timeline"
	"github.com/satindergrewal/voxrec/internal/voice"
)

var (
	ErrAlreadyRecording  = errors.New("room is already being recorded")
	ErrNoActiveRecording = errors.New("no active recording for room")
	ErrConnectionFailed  = errors.New("voice connection failed")
	ErrAssemblyFailed    = errors.New("meeting assembly failed")
)

// Backend is the meeting records service.
type Backend interface {
	CreateMeeting(ctx context.Context, roomID, channelID, channelName string) (string, error)
	RegisterParticipant(ctx context.Context, meetingID, participantID, displayName string, joinedAt time.Time) error
	MarkParticipantLeft(ctx context.Context, meetingID, participantID string, leftAt time.Time) error
	UpdateMeetingStatus(ctx context.Context, meetingID string, u backend.StatusUpdate) error
	UploadRecording(ctx context.Context, meetingID, path string) error
}

// Processor turns a meeting's raw segments into output files.
type Processor interface {
	SegmentDir(meetingID string) string
	Process(ctx context.Context, meetingID string, participants []timeline.Participant) (*assembler.Result, error)
}

type Options struct {
	// ConnectTimeout bounds joining the voice channel.
	ConnectTimeout time.Duration
	// SilenceWindow ends a speech segment.
	SilenceWindow time.Duration
	// Observe sees every speech event of every recording.
	Observe func(voice.SpeechEvent)
	// NewDecoder creates one packet decoder per captured speech burst.
	NewDecoder func() (capture.PacketDecoder, error)
}

type RosterEvent int

const (
	Joined RosterEvent = iota
	Left
)

func (e RosterEvent) String() string {
	if e == Joined {
		return "joined"
	}
	return "left"
}

// RosterChange reports someone entering or leaving a voice channel.
type RosterChange struct {
	RoomID    string
	ChannelID string
	Member    voice.Member
	Event     RosterEvent
}

// Registry holds the active recordings. Start and Stop for the same room
// are serialized; different rooms never wait on each other.
type Registry struct {
	gateway voice.Gateway
	backend Backend
	proc    Processor
	opts    Options
	log     *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(gw voice.Gateway, be Backend, proc Processor, opts Options, log *slog.Logger) *Registry {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.SilenceWindow <= 0 {
		opts.SilenceWindow = 100 * time.Millisecond
	}
	return &Registry{
		gateway:  gw,
		backend:  be,
		proc:     proc,
		opts:     opts,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*Session),
	}
}

// lockRoom takes the operation lock for roomID and returns its unlock.
func (r *Registry) lockRoom(roomID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomID] = l
	}
	r.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (r *Registry) lookup(roomID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[roomID]
}

func (r *Registry) HasActive(roomID string) bool {
	return r.lookup(roomID) != nil
}

// ActiveRooms lists the rooms currently being recorded.
func (r *Registry) ActiveRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Get returns a snapshot of the room's recording.
func (r *Registry) Get(roomID string) (Snapshot, bool) {
	s := r.lookup(roomID)
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(time.Now()), true
}

// Start creates the meeting record, joins the voice channel and begins
// capturing. It returns the meeting id.
func (r *Registry) Start(ctx context.Context, room voice.Room) (string, error) {
	unlock := r.lockRoom(room.ID)
	defer unlock()

	if r.HasActive(room.ID) {
		return "", ErrAlreadyRecording
	}
	log := r.log.With(slog.String("room_id", room.ID))

	meetingID, err := r.backend.CreateMeeting(ctx, room.ID, room.ChannelID, room.Name)
	if err != nil {
		return "", fmt.Errorf("create meeting record: %w", err)
	}
	log = log.With(slog.String("meeting_id", meetingID))

	joinCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	conn, err := r.gateway.Join(joinCtx, room)
	cancel()
	if err != nil {
		log.Error("voice connection failed", slog.String("error", err.Error()))
		r.updateStatus(context.WithoutCancel(ctx), log, meetingID, backend.StatusUpdate{Status: backend.StatusError})
		return "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		MeetingID:    meetingID,
		RoomID:       room.ID,
		ChannelID:    room.ChannelID,
		RoomName:     room.Name,
		StartTime:    now,
		conn:         conn,
		participants: make(map[string]*Participant),
	}
	var enrolled []voice.Member
	for _, m := range room.Members {
		if m.Bot {
			continue
		}
		s.join(m, now)
		enrolled = append(enrolled, m)
	}

	muxCtx, stop := context.WithCancel(context.Background())
	s.stopCapture = stop
	s.mux = capture.NewMultiplexer(conn, s, capture.Options{
		Dir:           r.proc.SegmentDir(meetingID),
		SilenceWindow: r.opts.SilenceWindow,
		Observe:       r.opts.Observe,
		NewDecoder:    r.opts.NewDecoder,
	}, log.With(slog.String("session_id", s.ID)))
	s.mux.Start(muxCtx)

	r.mu.Lock()
	r.sessions[room.ID] = s
	r.mu.Unlock()

	for _, m := range enrolled {
		r.registerParticipant(ctx, log, meetingID, m, now)
	}
	log.Info("recording started",
		slog.String("session_id", s.ID),
		slog.String("channel", room.Name),
		slog.Int("participants", len(enrolled)))
	return meetingID, nil
}

// Stop ends capture and runs the post-capture pipeline before returning.
// The session is removed once the pipeline finishes, whatever its outcome.
func (r *Registry) Stop(ctx context.Context, roomID string) error {
	unlock := r.lockRoom(roomID)
	defer unlock()

	s := r.lookup(roomID)
	if s == nil {
		return ErrNoActiveRecording
	}
	defer r.remove(roomID)

	// Post-processing runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	log := r.log.With(slog.String("room_id", roomID), slog.String("meeting_id", s.MeetingID))

	closeAll(log, s.close())
	s.stopCapture()
	s.destroy()
	s.mux.Wait()

	ended := time.Now()
	secs := int(ended.Sub(s.StartTime).Seconds())
	log.Info("capture stopped", slog.Int("duration_seconds", secs))
	r.updateStatus(ctx, log, s.MeetingID, backend.StatusUpdate{
		EndedAt:         &ended,
		DurationSeconds: &secs,
		Status:          backend.StatusProcessing,
	})

	res, err := r.proc.Process(ctx, s.MeetingID, s.timelineParticipants())
	if err != nil {
		log.Error("assembly failed", slog.String("error", err.Error()))
		r.updateStatus(ctx, log, s.MeetingID, backend.StatusUpdate{Status: backend.StatusError})
		return fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
	}

	for _, f := range res.Files() {
		if err := r.backend.UploadRecording(ctx, s.MeetingID, f); err != nil {
			log.Error("upload failed", slog.String("path", f), slog.String("error", err.Error()))
		}
	}
	r.updateStatus(ctx, log, s.MeetingID, backend.StatusUpdate{Status: backend.StatusCompleted})
	log.Info("recording finished", slog.Int("files", len(res.Files())))
	return nil
}

func (r *Registry) remove(roomID string) {
	r.mu.Lock()
	delete(r.sessions, roomID)
	r.mu.Unlock()
}

// OnRosterChange applies a join or leave to the room's recording. Changes
// for other channels, for bots, or with no recording are ignored.
func (r *Registry) OnRosterChange(ctx context.Context, c RosterChange) {
	if c.Member.Bot {
		return
	}
	s := r.lookup(c.RoomID)
	if s == nil || c.ChannelID != s.ChannelID {
		return
	}
	log := r.log.With(
		slog.String("room_id", c.RoomID),
		slog.String("meeting_id", s.MeetingID),
		slog.String("participant_id", c.Member.ID))

	switch c.Event {
	case Joined:
		at := time.Now()
		if !s.join(c.Member, at) {
			return
		}
		log.Info("participant joined")
		r.registerParticipant(ctx, log, s.MeetingID, c.Member, at)
	case Left:
		at := time.Now()
		streams, ok := s.leave(c.Member.ID, at)
		if !ok {
			return
		}
		closeAll(log, streams)
		log.Info("participant left", slog.Int("closed_streams", len(streams)))
		if err := r.backend.MarkParticipantLeft(ctx, s.MeetingID, c.Member.ID, at); err != nil {
			log.Error("mark participant left", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) registerParticipant(ctx context.Context, log *slog.Logger, meetingID string, m voice.Member, joinedAt time.Time) {
	if err := r.backend.RegisterParticipant(ctx, meetingID, m.ID, m.DisplayName, joinedAt); err != nil {
		log.Error("register participant",
			slog.String("participant_id", m.ID),
			slog.String("error", err.Error()))
	}
}

func (r *Registry) updateStatus(ctx context.Context, log *slog.Logger, meetingID string, u backend.StatusUpdate) {
	if err := r.backend.UpdateMeetingStatus(ctx, meetingID, u); err != nil {
		log.Error("update meeting status",
			slog.String("status", u.Status),
			slog.String("error", err.Error()))
	}
}

func closeAll(log *slog.Logger, streams []io.Closer) {
	for _, st := range streams {
		if err := st.Close(); err != nil {
			log.Warn("close stream", slog.String("error", err.Error()))
		}
	}
}
