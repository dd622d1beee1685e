package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/identity"
)

// SSEConnection represents a single SSE client connection.
type SSEConnection struct {
	ID          int64
	DeviceID    string
	TabID       string
	EventID     int64
	ConnectedAt time.Time
	LastEventID int64
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	mu          sync.Mutex
}

// StreamMessage is one published progress notification.
type StreamMessage struct {
	EventID   int64                `json:"event_id"`
	SessionID string               `json:"session_id,omitempty"`
	Event     domain.ProgressEvent `json:"event"`
}

// sseMessageQueue buffers messages for disconnected clients, sharded per
// device/tab. Each key gets its own bounded list so one client's burst
// cannot evict messages belonging to another.
type sseMessageQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

func newSSEMessageQueue(maxSize int) *sseMessageQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &sseMessageQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

func (q *sseMessageQueue) enqueue(key string, msg *StreamMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[key]; !ok {
		q.queues[key] = list.New()
	}
	l := q.queues[key]
	l.PushBack(msg)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *sseMessageQueue) missedMessages(key string, afterEventID int64) []*StreamMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var missed []*StreamMessage
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*StreamMessage)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

func (q *sseMessageQueue) prune(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, key)
}

// StreamHub fans progress events out to SSE clients, with per-key replay
// for reconnects.
type StreamHub struct {
	connections   map[string]map[int64]*SSEConnection
	messageQueue  *sseMessageQueue
	connectionsMu sync.RWMutex
	eventCounter  int64
	connectionID  int64
	counterMu     sync.Mutex

	keepaliveInterval time.Duration
	retryDelay        time.Duration
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		connections:       make(map[string]map[int64]*SSEConnection),
		messageQueue:      newSSEMessageQueue(100),
		keepaliveInterval: 10 * time.Second,
		retryDelay:        5 * time.Second,
	}
}

func streamKey(deviceID, tabID string) string {
	return deviceID + ":" + tabID
}

// Publish assigns an event ID, queues the message for replay and fans it
// out to every live connection for the device/tab.
func (h *StreamHub) Publish(deviceID, tabID, sessionID string, ev domain.ProgressEvent) {
	h.counterMu.Lock()
	h.eventCounter++
	eventID := h.eventCounter
	h.counterMu.Unlock()

	msg := &StreamMessage{EventID: eventID, SessionID: sessionID, Event: ev}
	key := streamKey(deviceID, tabID)
	h.messageQueue.enqueue(key, msg)

	h.connectionsMu.RLock()
	keyConns, exists := h.connections[key]
	if !exists {
		h.connectionsMu.RUnlock()
		return
	}
	conns := make([]*SSEConnection, 0, len(keyConns))
	for _, c := range keyConns {
		conns = append(conns, c)
	}
	h.connectionsMu.RUnlock()

	for _, conn := range conns {
		h.sendToConnection(conn, msg)
	}
}

func (h *StreamHub) sendToConnection(conn *SSEConnection, msg *StreamMessage) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.Done:
		return
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal SSE message", "error", err, "conn_id", conn.ID)
		return
	}
	if _, err := fmt.Fprintf(conn.Writer, "id: %d\nevent: progress\ndata: %s\n\n", msg.EventID, data); err != nil {
		slog.Error("Failed to write to SSE connection",
			"error", err,
			"conn_id", conn.ID,
			"device_id", conn.DeviceID,
		)
		return
	}
	conn.Flusher.Flush()
	conn.EventID = msg.EventID
}

// ServeHTTP handles the SSE stream for orchestration progress events,
// with Last-Event-ID replay and keepalive pings.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	key := streamKey(deviceID, tabID)

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.retryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "device_id", deviceID)
		return
	}
	flusher.Flush()

	h.counterMu.Lock()
	h.connectionID++
	connID := h.connectionID
	h.counterMu.Unlock()

	conn := &SSEConnection{
		ID:          connID,
		DeviceID:    deviceID,
		TabID:       tabID,
		ConnectedAt: time.Now(),
		LastEventID: lastEventID,
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	h.connectionsMu.Lock()
	if _, exists := h.connections[key]; !exists {
		h.connections[key] = make(map[int64]*SSEConnection)
	}
	h.connections[key][connID] = conn
	h.connectionsMu.Unlock()

	defer func() {
		h.connectionsMu.Lock()
		if keyConns, exists := h.connections[key]; exists {
			delete(keyConns, connID)
			if len(keyConns) == 0 {
				delete(h.connections, key)
			}
		}
		h.connectionsMu.Unlock()
		h.messageQueue.prune(key)
		slog.Info("SSE connection closed", "device_id", deviceID, "tab_id", tabID, "conn_id", connID)
	}()

	if lastEventID > 0 {
		missed := h.messageQueue.missedMessages(key, lastEventID)
		for _, msg := range missed {
			h.sendToConnection(conn, msg)
		}
	}

	h.counterMu.Lock()
	h.eventCounter++
	eventID := h.eventCounter
	h.counterMu.Unlock()
	conn.EventID = eventID
	connectedData := fmt.Sprintf(`{"status":"connected","device_id":"%s","event_id":%d}`, deviceID, eventID)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: connected\ndata: %s\n\n", eventID, connectedData); err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "device_id", deviceID)
		return
	}
	flusher.Flush()

	slog.Info("SSE connection established",
		"device_id", deviceID,
		"tab_id", tabID,
		"event_id", eventID,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			_, err := io.WriteString(w, "event: ping\ndata: {\"status\":\"alive\"}\n\n")
			if err == nil {
				flusher.Flush()
			}
			conn.mu.Unlock()
			if err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}
