package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/identity"
	"github.com/vozlab/voz/internal/voice"
)

// SessionFactory builds a voice session for a device with the given
// observers attached.
type SessionFactory func(deviceID, module string, obs voice.Observers) *voice.Session

// VoiceHandler upgrades /ws/voice connections and bridges WebSocket
// messages to a device's voice session.
type VoiceHandler struct {
	manager       *voice.Manager
	factory       SessionFactory
	allowedOrigin string
	isDev         bool
}

func NewVoiceHandler(manager *voice.Manager, factory SessionFactory, allowedOrigin string, isDev bool) *VoiceHandler {
	return &VoiceHandler{
		manager:       manager,
		factory:       factory,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// voiceClientMessage is what the browser sends over the socket.
type voiceClientMessage struct {
	Type   string `json:"type"`
	Module string `json:"module,omitempty"`
	// Audio carries one base64-encoded capture frame.
	Audio string `json:"audio,omitempty"`
}

// voiceServerMessage is what the server pushes back.
type voiceServerMessage struct {
	Type     string                `json:"type"`
	State    voice.State           `json:"state,omitempty"`
	Event    voice.Event           `json:"event,omitempty"`
	Text     string                `json:"text,omitempty"`
	AudioURL string                `json:"audio_url,omitempty"`
	Progress *domain.ProgressEvent `json:"progress,omitempty"`
	Result   *voice.TurnResult     `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	slog.Info("Voice connection request", "device_id", deviceID, "tab_id", tabID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	module := r.URL.Query().Get("module")
	sess := h.factory(deviceID, module, voice.Observers{
		OnTransition: func(tr voice.Transition) {
			h.writeJSON(ws, voiceServerMessage{Type: "state", State: tr.To, Event: tr.Event})
		},
		OnProgress: func(ev domain.ProgressEvent) {
			h.writeJSON(ws, voiceServerMessage{Type: "progress", Progress: &ev})
		},
		OnWelcome: func(text, audioURL string) {
			h.writeJSON(ws, voiceServerMessage{Type: "welcome", Text: text, AudioURL: audioURL})
		},
		OnResult: func(res voice.TurnResult) {
			if res.Err != "" {
				h.writeJSON(ws, voiceServerMessage{Type: "error", Error: res.Err})
				return
			}
			h.writeJSON(ws, voiceServerMessage{Type: "result", Result: &res})
		},
	})

	h.manager.Register(deviceID, tabID, sess)
	defer h.manager.Unregister(deviceID, tabID, sess)
	defer sess.Reset()

	h.writeJSON(ws, voiceServerMessage{Type: "state", State: sess.State()})
	h.readLoop(ctx, ws, sess, deviceID)
	slog.Info("Voice session ended", "device_id", deviceID, "tab_id", tabID)
}

func (h *VoiceHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// eventByName maps wire message types to state machine events. Audio and
// ping are handled separately.
var eventByName = map[string]voice.Event{
	"start":          voice.EventStart,
	"playbackEnded":  voice.EventPlaybackEnded,
	"micPressed":     voice.EventMicPressed,
	"micReleased":    voice.EventMicReleased,
	"silenceTimeout": voice.EventSilenceTimeout,
	"reset":          voice.EventReset,
}

func (h *VoiceHandler) readLoop(ctx context.Context, ws *websocket.Conn, sess *voice.Session, deviceID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "device_id", deviceID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		var msg voiceClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Raw binary frames are treated as captured audio.
			sess.PushAudio(message)
			continue
		}

		switch msg.Type {
		case "audio":
			frame, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				slog.Debug("Invalid audio frame", "device_id", deviceID, "error", err)
				continue
			}
			sess.PushAudio(frame)
		case "ping":
			h.writeJSON(ws, voiceServerMessage{Type: "pong"})
		default:
			event, ok := eventByName[msg.Type]
			if !ok {
				slog.Debug("Unknown voice message type", "type", msg.Type, "device_id", deviceID)
				continue
			}
			if !sess.Apply(ctx, event) {
				h.writeJSON(ws, voiceServerMessage{
					Type:  "rejected",
					State: sess.State(),
					Event: event,
				})
			}
		}
	}
}

func (h *VoiceHandler) writeJSON(ws *websocket.Conn, v voiceServerMessage) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal voice message", "error", err)
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
