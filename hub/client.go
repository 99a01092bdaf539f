package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Client is one live connection. Its ID is the connection reference
// stored in the registry's connection index and in channel membership
// sets; it is unrelated to the short identity id.
type Client struct {
	ID   string
	Send chan []byte

	hub       *Hub
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newClient(id string, h *Hub, conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		ID:   id,
		Send: make(chan []byte, sendBuffer),
		hub:  h,
		conn: conn,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("Read failed", "conn", c.ID, "err", err)
			}
			return
		}
		c.hub.Dispatch(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close is idempotent; Detach and a failing pump can both end up here.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
