package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"parking-checkin/internal/capture"
	"parking-checkin/internal/scanner"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsMessage struct {
	Type    string            `json:"type"`
	Session *scanner.Snapshot `json:"session,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type wsCommand struct {
	Action string `json:"action"`
}

// wsClient is one operator screen attached to a scan session. The server
// pushes a snapshot after every transition; the client may send commands as
// text messages and camera frames as binary messages.
type wsClient struct {
	conn    *websocket.Conn
	session *scanner.Session
	send    chan wsMessage
	done    chan struct{}
	log     zerolog.Logger
}

func (h *Handler) sessionWebSocket(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", s.ID()).Msg("failed to upgrade to websocket")
		return
	}

	client := &wsClient{
		conn:    conn,
		session: s,
		send:    make(chan wsMessage, 8),
		done:    make(chan struct{}),
		log:     h.log.With().Str("session_id", s.ID()).Str("remote", c.ClientIP()).Logger(),
	}
	conn.SetReadLimit(h.config.HTTP.MaxUploadBytes)

	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	client.log.Info().Msg("websocket client connected")
	go client.writePump(updates)
	client.readPump()
	client.log.Info().Msg("websocket client disconnected")
}

func (c *wsClient) writePump(updates <-chan scanner.Snapshot) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	snap := c.session.Snapshot()
	if err := c.write(wsMessage{Type: "snapshot", Session: &snap}); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := c.write(wsMessage{Type: "snapshot", Session: &snap}); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) write(msg wsMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}

func (c *wsClient) readPump() {
	defer close(c.done)

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			c.pushFrame(data)
		case websocket.TextMessage:
			c.command(data)
		}
	}
}

func (c *wsClient) pushFrame(data []byte) {
	src, ok := c.session.Source().(*capture.PushSource)
	if !ok {
		c.reply(errNotPushSource.Error())
		return
	}
	if err := src.PushEncoded(bytes.NewReader(data)); err != nil {
		c.reply(err.Error())
	}
}

func (c *wsClient) command(data []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reply("invalid command")
		return
	}

	var err error
	switch cmd.Action {
	case "start":
		_, err = c.session.Start()
	case "stop":
		c.session.Stop()
	case "continue":
		_, err = c.session.Continue()
	default:
		c.reply("unknown action " + cmd.Action)
		return
	}
	if err != nil {
		c.reply(err.Error())
	}
}

// reply drops the message when the writer is backed up.
func (c *wsClient) reply(msg string) {
	select {
	case c.send <- wsMessage{Type: "error", Error: msg}:
	default:
	}
}
