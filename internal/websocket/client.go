package websocket

import (
	"fmt"
	"sync"
	"time"

	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rag/pipeline"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20 // uploads arrive base64 encoded in a single frame
	sendBuffer     = 256
)

// Client is a middleman between one session's websocket connection and the
// chat session service.
type Client struct {
	SessionKey string

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; done signals shutdown.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	logger logger.ILogger
}

func NewClient(sessionKey string, conn *websocket.Conn, log logger.ILogger) *Client {
	return &Client{
		SessionKey: sessionKey,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Send queues text for the write pump. It never blocks: a full queue or a
// closed client is reported as a transport failure.
func (c *Client) Send(text string) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection closed", pipeline.ErrTransport)
	default:
	}

	select {
	case c.send <- []byte(text):
		return nil
	case <-c.done:
		return fmt.Errorf("%w: connection closed", pipeline.ErrTransport)
	default:
		return fmt.Errorf("%w: send buffer full", pipeline.ErrTransport)
	}
}

// Close stops both pumps and closes the socket. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump feeds inbound frames to handle one at a time. It returns when the
// socket fails or handle reports a transport failure.
func (c *Client) readPump(handle func(raw []byte) error) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WS", "Unexpected close", map[string]interface{}{"session_key": c.SessionKey, "error": err.Error()})
			}
			return
		}
		// Long pipeline runs must not trip the read deadline.
		_ = c.conn.SetReadDeadline(time.Time{})
		if err := handle(raw); err != nil {
			c.logger.Warn("WS", "Dropping connection after transport failure", map[string]interface{}{"session_key": c.SessionKey, "error": err.Error()})
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump pumps queued messages to the websocket connection, one frame each.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WS", "Write failed", map[string]interface{}{"session_key": c.SessionKey, "error": err.Error()})
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("WS", "Ping failed", map[string]interface{}{"session_key": c.SessionKey, "error": err.Error()})
				return
			}
		case <-c.done:
			return
		}
	}
}
