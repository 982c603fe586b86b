package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/pubsub"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxReadBytes = 4 << 10
)

// StreamEvents pushes envelopes for ?room= over SSE. Without a room every
// envelope is streamed.
// GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if err := ValidateRoom(room); err != nil {
		h.writeValidation(w, err)
		return
	}

	flusher, ok := h.startSSE(w)
	if !ok {
		return
	}

	sub := h.cfg.Hub.Subscribe(r.Context(), room)
	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				log.Error(log.CatAPI, "Failed to marshal event", "topic", ev.Payload.Topic, "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Payload.Topic, data)
			flusher.Flush()
		}
	}
}

// StreamLogs pushes formatted log lines over SSE.
// GET /logs
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	sub := log.Subscribe(r.Context())
	if sub == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "logging not initialized", "")
		return
	}

	flusher, ok := h.startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, _ := json.Marshal(strings.TrimRight(ev.Payload, "\n"))
			_, _ = fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *Handler) startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return nil, false
	}

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()
	return flusher, true
}

// WebSocket joins ?room= and writes each envelope as a JSON text message.
// Client messages are ignored; reading only detects disconnects.
// GET /ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if err := ValidateRoom(room); err != nil {
		h.writeValidation(w, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.CatAPI, "WebSocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsMaxReadBytes)

	ctx := r.Context()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := h.cfg.Hub.Subscribe(ctx, room)
	log.Debug(log.CatAPI, "WebSocket joined", "room", room)

	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			log.Debug(log.CatAPI, "WebSocket left", "room", room)
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsMessage{Type: ev.Payload.Topic, Lifecycle: ev.Kind, Envelope: ev.Payload}); err != nil {
				log.Debug(log.CatAPI, "WebSocket write failed", "room", room, "error", err)
				return
			}
		}
	}
}

// wsMessage is what WebSocket clients receive.
type wsMessage struct {
	Type events.Topic `json:"type"`
	// Lifecycle is "closed" on the last message a session or job sends.
	Lifecycle pubsub.Kind     `json:"lifecycle"`
	Envelope  events.Envelope `json:"envelope"`
}

// isWebSocketOriginAllowed accepts same-host browsers and non-browser
// clients that send no Origin.
func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
