package signal

import (
	"context"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/gorilla/websocket"
)

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	// Anything buffered while the connection was down goes out first.
	c.signalWake()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				c.log.Warn().Err(err).Msg("writePump ping")
				_ = conn.Close()
				return
			}
		case <-c.wake:
			if err := c.flush(conn); err != nil {
				c.log.Warn().Err(err).Msg("writePump write error")
				_ = conn.Close()
				return
			}
		}
	}
}

// flush writes the outgoing buffer in enqueue order.
func (c *Channel) flush(conn *websocket.Conn) error {
	for {
		f, ok := c.pop()
		if !ok {
			return nil
		}
		if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
			c.requeue(f)
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			c.requeue(f)
			return err
		}
	}
}

func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) {
	c.keepalive(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.log.Debug().Msg("readPump ctx done")
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("readPump unexpected close")
			} else {
				c.log.Info().Err(err).Msg("readPump closing")
			}
			return
		}
		c.extendDeadline(conn)
		c.deliver(core.Frame(data))
	}
}

// deliver hands one frame to its subscribers, synchronously and in order.
func (c *Channel) deliver(frame core.Frame) {
	tag, err := core.PeekType(frame)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad frame")
		return
	}
	handlers := c.handlersFor(tag)
	if len(handlers) == 0 {
		c.log.Debug().Str("event", string(tag)).Msg("no subscriber")
		return
	}
	for _, fn := range handlers {
		c.safeCall(func() { fn(frame) })
	}
}
