package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"

	"github.com/satindergrewal/voxrec/internal/session"
	"github.com/satindergrewal/voxrec/internal/voice"
	"github.com/satindergrewal/voxrec/pkg/json"
	"github.com/satindergrewal/voxrec/pkg/logger"
)

// Recorder is the session registry.
type Recorder interface {
	Start(ctx context.Context, room voice.Room) (string, error)
	Stop(ctx context.Context, roomID string) error
	Get(roomID string) (session.Snapshot, bool)
	OnRosterChange(ctx context.Context, c session.RosterChange)
}

// Signaler answers a participant's WebRTC offer.
type Signaler interface {
	Accept(roomID, participantID string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

// EventStream serves live speech events for a room.
type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, roomID string)
}

type Handler struct {
	rec    Recorder
	sig    Signaler
	events EventStream
}

func NewHandler(rec Recorder, sig Signaler, events EventStream) *Handler {
	return &Handler{rec: rec, sig: sig, events: events}
}

type (
	StartRequest struct {
		ChannelID   string         `json:"channel_id"`
		ChannelName string         `json:"channel_name"`
		Members     []voice.Member `json:"members"`
	}

	StartResponse struct {
		MeetingID string `json:"meeting_id"`
	}

	RosterRequest struct {
		ChannelID string       `json:"channel_id"`
		Member    voice.Member `json:"member"`
		Event     string       `json:"event"`
	}
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	json.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	log := logger.FromContext(r.Context()).With(slog.String("room_id", roomID))

	var req StartRequest
	if err := json.ParseJSON(r, &req); err != nil {
		json.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if req.ChannelID == "" {
		json.WriteError(w, http.StatusBadRequest, errors.New("channel_id is required"))
		return
	}

	meetingID, err := h.rec.Start(r.Context(), voice.Room{
		ID:        roomID,
		ChannelID: req.ChannelID,
		Name:      req.ChannelName,
		Members:   req.Members,
	})
	switch {
	case errors.Is(err, session.ErrAlreadyRecording):
		json.WriteError(w, http.StatusConflict, err)
		return
	case err != nil:
		log.Error("start recording", slog.String("error", err.Error()))
		json.WriteError(w, http.StatusBadGateway, err)
		return
	}
	json.WriteJSON(w, http.StatusCreated, StartResponse{MeetingID: meetingID})
}

func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.rec.Get(chi.URLParam(r, "roomId"))
	if !ok {
		json.WriteError(w, http.StatusNotFound, session.ErrNoActiveRecording)
		return
	}
	json.WriteJSON(w, http.StatusOK, snap)
}

// StopRecording blocks until the meeting has been assembled.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	log := logger.FromContext(r.Context()).With(slog.String("room_id", roomID))

	err := h.rec.Stop(r.Context(), roomID)
	switch {
	case errors.Is(err, session.ErrNoActiveRecording):
		json.WriteError(w, http.StatusNotFound, err)
		return
	case err != nil:
		log.Error("stop recording", slog.String("error", err.Error()))
		json.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) RosterChange(w http.ResponseWriter, r *http.Request) {
	var req RosterRequest
	if err := json.ParseJSON(r, &req); err != nil {
		json.WriteError(w, http.StatusBadRequest, err)
		return
	}
	var ev session.RosterEvent
	switch req.Event {
	case "joined":
		ev = session.Joined
	case "left":
		ev = session.Left
	default:
		json.WriteError(w, http.StatusBadRequest, fmt.Errorf("unknown roster event %q", req.Event))
		return
	}
	if req.Member.ID == "" {
		json.WriteError(w, http.StatusBadRequest, errors.New("member.id is required"))
		return
	}
	h.rec.OnRosterChange(r.Context(), session.RosterChange{
		RoomID:    chi.URLParam(r, "roomId"),
		ChannelID: req.ChannelID,
		Member:    req.Member,
		Event:     ev,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Offer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	participantID := chi.URLParam(r, "participantId")

	var offer webrtc.SessionDescription
	if err := json.ParseJSON(r, &offer); err != nil {
		json.WriteError(w, http.StatusBadRequest, err)
		return
	}
	answer, err := h.sig.Accept(roomID, participantID, offer)
	switch {
	case errors.Is(err, voice.ErrUnknownRoom):
		json.WriteError(w, http.StatusNotFound, err)
		return
	case err != nil:
		logger.FromContext(r.Context()).Warn("webrtc offer rejected",
			slog.String("room_id", roomID),
			slog.String("participant_id", participantID),
			slog.String("error", err.Error()))
		json.WriteError(w, http.StatusBadRequest, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, answer)
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.events.Serve(w, r, chi.URLParam(r, "roomId"))
}
