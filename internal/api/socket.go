package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/identity"
	"github.com/coder/websocket"
)

const socketWriteTimeout = 10 * time.Second

// socketMessage is a client frame on the chat socket.
type socketMessage struct {
	Type             string                   `json:"type"`
	RequestID        string                   `json:"request_id,omitempty"`
	Text             string                   `json:"text,omitempty"`
	AgentID          string                   `json:"agent_id,omitempty"`
	SessionID        string                   `json:"session_id,omitempty"`
	TechnicalContext *domain.TechnicalContext `json:"technical_context,omitempty"`
}

// socketEvent is a server frame on the chat socket.
type socketEvent struct {
	Type      string                `json:"type"`
	RequestID string                `json:"request_id,omitempty"`
	Reply     *domain.OutboundReply `json:"reply,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// ChatSocket streams chat exchanges over a WebSocket. Replies are sent to
// every open tab of the identity.
type ChatSocket struct {
	chat          Exchanger
	conns         *ConnManager
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewChatSocket creates a ChatSocket.
func NewChatSocket(chat Exchanger, conns *ConnManager, allowedOrigin string, isDev bool, logger *slog.Logger) *ChatSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSocket{
		chat:          chat,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	logger := h.logger.With("identity", userID, "tab_id", tabID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.conns.Register(userID, tabID, ws)
	defer h.conns.Unregister(userID, tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(ctx, ws, socketEvent{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.write(ctx, ws, socketEvent{Type: "pong", RequestID: msg.RequestID})
		case "chat":
			h.write(ctx, ws, socketEvent{Type: "processing", RequestID: msg.RequestID})
			wg.Add(1)
			go func(msg socketMessage) {
				defer wg.Done()
				h.exchange(ctx, ws, userID, msg)
			}(msg)
		default:
			h.write(ctx, ws, socketEvent{Type: "error", RequestID: msg.RequestID, Error: "unknown message type"})
		}
	}
}

// exchange runs one message through the orchestrator. The exchange itself
// outlives a closed socket so the turn is still recorded.
func (h *ChatSocket) exchange(ctx context.Context, ws *websocket.Conn, userID string, msg socketMessage) {
	reply, err := h.chat.Handle(context.WithoutCancel(ctx), domain.InboundMessage{
		Channel:          domain.ChannelWeb,
		ExternalIdentity: userID,
		Text:             msg.Text,
		TechnicalContext: msg.TechnicalContext,
		SessionID:        msg.SessionID,
		AgentID:          msg.AgentID,
	})
	if err != nil {
		event := socketEvent{Type: "error", RequestID: msg.RequestID, Error: "internal server error"}
		switch StatusFor(err) {
		case http.StatusBadRequest:
			event.Error = err.Error()
		case http.StatusNotFound:
			event.Error = "no active agent or session"
		default:
			h.logger.Error("chat socket exchange failed", "identity", userID, "error", err)
		}
		h.write(ctx, ws, event)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), socketWriteTimeout)
	defer cancel()
	if _, err := h.conns.Broadcast(writeCtx, userID, socketEvent{Type: "reply", RequestID: msg.RequestID, Reply: reply}); err != nil {
		h.logger.Warn("failed to deliver chat reply", "identity", userID, "error", err)
	}
}

func (h *ChatSocket) checkOrigin(r *http.Request) bool {
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
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChatSocket) write(ctx context.Context, ws *websocket.Conn, v socketEvent) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode socket event", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to write socket event", "type", v.Type, "error", err)
	}
}
