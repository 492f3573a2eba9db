package websocket

import (
	"context"
	"time"

	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/session"

	"github.com/gofiber/websocket/v2"
)

// SessionHandler is the chat session service as seen by the transport.
type SessionHandler interface {
	Connect(sessionKey string, conn session.Conn)
	HandleEvent(ctx context.Context, sessionKey string, raw []byte) error
	Disconnect(sessionKey string, conn session.Conn)
}

// ServeWs runs one session until its socket closes. Inbound frames are
// handled sequentially on the calling goroutine.
func ServeWs(c *websocket.Conn, sessionKey string, sessions SessionHandler, log logger.ILogger) {
	client := NewClient(sessionKey, c, log)
	sessions.Connect(sessionKey, client)
	started := time.Now()

	go client.writePump()

	// In-flight work is not cancelled when the socket goes away; its
	// persistence still completes.
	ctx := context.Background()
	client.readPump(func(raw []byte) error {
		return sessions.HandleEvent(ctx, sessionKey, raw)
	})

	sessions.Disconnect(sessionKey, client)
	_ = client.Close()

	log.Info("WS", "Session ended", map[string]interface{}{
		"session_key": sessionKey,
		"duration":    time.Since(started).String(),
	})
}
