// Package sse streams hub messages as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"nightroad.app/internal/hub"
	"nightroad.app/internal/protocol"
)

const defaultHeartbeat = 25 * time.Second

type Handler struct {
	hub       *hub.Hub
	logger    *log.Logger
	heartbeat time.Duration
}

func NewHandler(h *hub.Hub, logger *log.Logger) *Handler {
	return &Handler{hub: h, logger: logger, heartbeat: defaultHeartbeat}
}

// SetHeartbeat changes the interval of ": ping" comments. Zero disables them.
func (h *Handler) SetHeartbeat(d time.Duration) { h.heartbeat = d }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the acknowledgement so nothing published after it is missed.
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello, err := json.Marshal(protocol.ConnectedMsg{
		Type:            protocol.TypeConnected,
		ProtocolVersion: protocol.Version,
		ID:              sub.ID,
	})
	if err != nil {
		return
	}
	if err := writeEvent(w, hello); err != nil {
		return
	}
	flusher.Flush()
	h.logf("sse: %s connected from %s", sub.ID, r.RemoteAddr)
	defer h.logf("sse: %s disconnected", sub.ID)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case b, ok := <-sub.C:
			if !ok {
				// Evicted or hub closed; the client reconnects and refetches /state.
				return
			}
			if err := writeEvent(w, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
