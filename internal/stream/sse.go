package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// keepAlive is how often an idle event stream sends a comment line so
// proxies do not drop the connection.
const keepAlive = 15 * time.Second

// event is the wire form of a speech event.
type event struct {
	RoomID        string    `json:"roomId"`
	ParticipantID string    `json:"participantId"`
	Kind          string    `json:"kind"`
	At            time.Time `json:"at"`
}

// SSEHandler serves speech activity as Server-Sent Events.
type SSEHandler struct {
	broadcaster *Broadcaster
	log         *slog.Logger
}

func NewSSEHandler(b *Broadcaster, log *slog.Logger) *SSEHandler {
	return &SSEHandler{broadcaster: b, log: log}
}

// Serve streams events for roomID until the client goes away.
func (h *SSEHandler) Serve(w http.ResponseWriter, r *http.Request, roomID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.broadcaster.Subscribe(roomID)
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info("event listener connected",
		slog.String("room_id", roomID),
		slog.Int("listeners", h.broadcaster.ListenerCount()))
	defer h.log.Info("event listener disconnected", slog.String("room_id", roomID))

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-listener.C:
			data, err := json.Marshal(event{
				RoomID:        ev.RoomID,
				ParticipantID: ev.ParticipantID,
				Kind:          ev.Kind.String(),
				At:            ev.At,
			})
			if err != nil {
				h.log.Error("encode speech event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: speaking\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
