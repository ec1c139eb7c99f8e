// echoserver is a local chat backend for exercising the client: it
// accepts WebSocket connections, confirms every chat frame with a
// server-assigned message id, and answers pings. A /api/ticket endpoint
// issues short-lived connection tickets.
// Usage: go run ./cmd/echoserver --addr :8080
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type chatPayload struct {
	TempID   string `json:"temp_id"`
	ThreadID string `json:"thread_id"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
}

type confirmationPayload struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ticket", handleTicket)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWS(logger, w, r)
	})

	logger.Info("echoserver listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func handleTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"success": true,
		"ticket": map[string]any{
			"ticket":     uuid.NewString(),
			"expires_at": time.Now().Add(5 * time.Minute).UnixMilli(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func handleWS(logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	jwt := r.URL.Query().Get("jwt")
	logger.Info("client connected", "remote", r.RemoteAddr,
		"has_ticket", ticket != "", "has_jwt", jwt != "")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("client disconnected", "remote", r.RemoteAddr, "error", err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case "ping":
			reply(logger, conn, envelope{Type: "pong", Timestamp: env.Timestamp})
		case "heartbeat":
			reply(logger, conn, envelope{Type: "heartbeat_ack", Timestamp: time.Now().UnixMilli()})
		case "chat":
			confirmChat(logger, conn, env)
		default:
			logger.Debug("ignoring frame", "type", env.Type)
		}
	}
}

func confirmChat(logger *slog.Logger, conn *websocket.Conn, env envelope) {
	var chat chatPayload
	if err := json.Unmarshal(env.Payload, &chat); err != nil {
		logger.Warn("malformed chat payload", "error", err)
		return
	}

	now := time.Now().UnixMilli()
	payload, err := json.Marshal(confirmationPayload{
		MessageID: uuid.NewString(),
		ThreadID:  chat.ThreadID,
		Sender:    chat.Sender,
		Content:   chat.Content,
		Timestamp: now,
	})
	if err != nil {
		logger.Error("marshal confirmation", "error", err)
		return
	}

	logger.Debug("confirming chat", "thread", chat.ThreadID, "temp_id", chat.TempID)
	reply(logger, conn, envelope{Type: "confirmation", Payload: payload, Timestamp: now})
}

func reply(logger *slog.Logger, conn *websocket.Conn, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("marshal reply", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Warn("write failed", "error", err)
	}
}
