package handler

import (
	"rag-chat-be/internal/pkg/logger"
	internalWS "rag-chat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const maxSessionKeyLength = 255

type SessionHandler struct {
	sessions internalWS.SessionHandler
	logger   logger.ILogger
}

func NewSessionHandler(sessions internalWS.SessionHandler, log logger.ILogger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   log,
	}
}

// ServeWs upgrades the request and runs the chat session named in the path.
func (h *SessionHandler) ServeWs(c *fiber.Ctx) error {
	sessionKey := c.Params("sessionKey")
	if sessionKey == "" || len(sessionKey) > maxSessionKeyLength {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid session key")
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("SessionHandler", "Starting WebSocket session", map[string]interface{}{"session_key": sessionKey})
		internalWS.ServeWs(conn, sessionKey, h.sessions, h.logger)
	})(c)
}

func (h *SessionHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws/:sessionKey", h.ServeWs)
}
