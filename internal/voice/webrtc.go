package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// ErrUnknownRoom is returned by Accept when no recording has joined the room.
var ErrUnknownRoom = errors.New("voice: room not joined")

// speechGrace is how long a participant may stay quiet before SpeechEnded.
const speechGrace = 100 * time.Millisecond

// Hub is a WebRTC Gateway. Each participant publishes their microphone as
// an Opus track by posting an SDP offer; the hub receives every track and
// derives speech activity from packet arrival.
type Hub struct {
	config webrtc.Configuration
	log    *slog.Logger

	mu    sync.Mutex
	rooms map[string]*rtcRoom
}

// NewHub creates a WebRTC hub using the given STUN servers.
func NewHub(stunServers []string, log *slog.Logger) *Hub {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &Hub{
		config: cfg,
		log:    log,
		rooms:  make(map[string]*rtcRoom),
	}
}

// Join opens the room for incoming participant tracks.
func (h *Hub) Join(ctx context.Context, room Room) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room.ID]; ok {
		return nil, fmt.Errorf("voice: room %s already joined", room.ID)
	}
	r := newRTCRoom(room.ID, h.log.With(slog.String("room_id", room.ID)))
	r.onDestroy = func() { h.forget(room.ID, r) }
	h.rooms[room.ID] = r
	h.log.Info("voice room joined", slog.String("room_id", room.ID), slog.String("channel", room.Name))
	return r, nil
}

func (h *Hub) forget(roomID string, r *rtcRoom) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == r {
		delete(h.rooms, roomID)
	}
}

// Accept negotiates a receive-only audio peer for one participant and
// returns the SDP answer.
func (h *Hub) Accept(roomID, participantID string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRoom
	}

	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		r.log.Debug("participant track received",
			slog.String("participant_id", participantID),
			slog.String("codec", track.Codec().MimeType))
		go r.readTrack(participantID, track)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	// Wait for ICE gathering to complete
	<-webrtc.GatheringCompletePromise(pc)

	if err := r.addPeer(participantID, pc); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			r.removePeer(participantID, pc)
			pc.Close()
			r.log.Info("participant peer disconnected", slog.String("participant_id", participantID))
		}
	})

	return pc.LocalDescription(), nil
}

type speaker struct {
	active  bool
	quiet   *time.Timer
	streams map[*packetStream]struct{}
}

// rtcRoom is the Connection handed to a recording.
type rtcRoom struct {
	id        string
	log       *slog.Logger
	speaking  chan SpeechEvent
	done      chan struct{}
	once      sync.Once
	onDestroy func()

	mu       sync.Mutex
	peers    map[string]*webrtc.PeerConnection
	speakers map[string]*speaker
}

func newRTCRoom(id string, log *slog.Logger) *rtcRoom {
	return &rtcRoom{
		id:       id,
		log:      log,
		speaking: make(chan SpeechEvent, 64),
		done:     make(chan struct{}),
		peers:    make(map[string]*webrtc.PeerConnection),
		speakers: make(map[string]*speaker),
	}
}

func (r *rtcRoom) Speaking() <-chan SpeechEvent {
	return r.speaking
}

func (r *rtcRoom) Subscribe(participantID string, afterSilence time.Duration) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return nil, ErrClosed
	default:
	}

	sp := r.speaker(participantID)
	s := newPacketStream(afterSilence, func(s *packetStream) { r.detach(participantID, s) })
	sp.streams[s] = struct{}{}
	return s, nil
}

func (r *rtcRoom) Destroy() {
	r.once.Do(func() {
		close(r.done)

		r.mu.Lock()
		peers := r.peers
		r.peers = make(map[string]*webrtc.PeerConnection)
		var streams []*packetStream
		for _, sp := range r.speakers {
			if sp.quiet != nil {
				sp.quiet.Stop()
			}
			for s := range sp.streams {
				streams = append(streams, s)
			}
		}
		r.mu.Unlock()

		for _, s := range streams {
			s.Close()
		}
		for id, pc := range peers {
			if err := pc.Close(); err != nil {
				r.log.Warn("close peer", slog.String("participant_id", id), slog.String("error", err.Error()))
			}
		}
		if r.onDestroy != nil {
			r.onDestroy()
		}
		r.log.Info("voice room destroyed")
	})
}

func (r *rtcRoom) addPeer(participantID string, pc *webrtc.PeerConnection) error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return ErrClosed
	default:
	}
	old := r.peers[participantID]
	r.peers[participantID] = pc
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (r *rtcRoom) removePeer(participantID string, pc *webrtc.PeerConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[participantID] == pc {
		delete(r.peers, participantID)
	}
}

func (r *rtcRoom) readTrack(participantID string, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		r.deliver(participantID, pkt.Payload)
	}
}

// deliver routes one packet to the participant's open streams and updates
// their speaking state.
func (r *rtcRoom) deliver(participantID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return
	default:
	}

	sp := r.speaker(participantID)
	if !sp.active {
		sp.active = true
		r.emit(SpeechStarted, participantID)
	}
	if sp.quiet == nil {
		sp.quiet = time.AfterFunc(speechGrace, func() { r.fallQuiet(participantID) })
	} else {
		sp.quiet.Reset(speechGrace)
	}

	for s := range sp.streams {
		s.push(payload)
	}
}

func (r *rtcRoom) fallQuiet(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.speakers[participantID]
	if !ok || !sp.active {
		return
	}
	sp.active = false
	r.emit(SpeechEnded, participantID)
}

func (r *rtcRoom) detach(participantID string, s *packetStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sp, ok := r.speakers[participantID]; ok {
		delete(sp.streams, s)
	}
}

// speaker must be called with r.mu held.
func (r *rtcRoom) speaker(participantID string) *speaker {
	sp, ok := r.speakers[participantID]
	if !ok {
		sp = &speaker{streams: make(map[*packetStream]struct{})}
		r.speakers[participantID] = sp
	}
	return sp
}

// emit must be called with r.mu held; it never blocks.
func (r *rtcRoom) emit(kind SpeechKind, participantID string) {
	ev := SpeechEvent{Kind: kind, RoomID: r.id, ParticipantID: participantID, At: time.Now()}
	select {
	case r.speaking <- ev:
	case <-r.done:
	default:
		r.log.Warn("speech event dropped",
			slog.String("participant_id", participantID),
			slog.String("kind", kind.String()))
	}
}
