package signal

import (
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/gorilla/websocket"
)

// identify is written before the writer starts, so it is always the first
// frame of a connection.
func (c *Channel) identify(conn *websocket.Conn, identity domain.Identity) error {
	frame, err := core.Encode(core.NewEvent(&core.Identify{
		Token:    identity.Token,
		UserID:   identity.User.ID,
		ClientID: c.clientID,
	}, "", ""))
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Channel) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
}

func (c *Channel) keepalive(conn *websocket.Conn) {
	conn.SetReadLimit(c.opts.ReadLimit)
	c.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})
}

func (c *Channel) extendDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
}
