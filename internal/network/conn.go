package network

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/protocol"
)

type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	id     protocol.NetID
	send   chan []byte
	remote string

	authed    atomic.Bool
	kicked    atomic.Bool
	closeOnce sync.Once
	sendMu    sync.Mutex
	done      bool
}

// enqueue ставит кадр в очередь отправки без блокировки
func (c *conn) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.done {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close закрывает очередь отправки; writePump отправит close-кадр.
// kicked означает отключение по требованию игры.
func (c *conn) close(kicked bool) {
	c.closeOnce.Do(func() {
		if kicked {
			c.kicked.Store(true)
		}
		c.sendMu.Lock()
		c.done = true
		close(c.send)
		c.sendMu.Unlock()
		c.hub.remove(c)
	})
}

func (c *conn) readPump() {
	defer func() {
		c.close(false)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(authWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws %d: %v", c.id, err)
			}
			return
		}
		c.hub.framesIn.Add(1)

		f, err := protocol.Decode(message)
		if err != nil {
			c.hub.badFrames.Add(1)
			continue
		}

		if !c.authed.Load() {
			if f.T != protocol.MsgAuth {
				continue
			}
			if !c.authenticate(f) {
				return
			}
			c.ws.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		ev, err := decodeClientFrame(c.id, f)
		if err != nil {
			c.hub.badFrames.Add(1)
			c.hub.logger.Debug("кадр %s от %d: %v", f.T, c.id, err)
			continue
		}
		c.hub.push(ev)
	}
}

func (c *conn) authenticate(f *protocol.Frame) bool {
	var msg protocol.AuthMsg
	if err := f.Payload(&msg); err != nil {
		c.reply(protocol.MsgError, protocol.ErrorMsg{Message: "bad auth frame"})
		return false
	}
	pid, err := c.hub.verifier.Verify(msg.Token)
	if err != nil {
		c.hub.logger.Warn("аутентификация %d (%s): %v", c.id, c.remote, err)
		c.reply(protocol.MsgError, protocol.ErrorMsg{Message: "authentication failed"})
		return false
	}

	c.reply(protocol.MsgAuthOK, protocol.AuthOKMsg{PID: pid, NetID: c.id})
	// authed и событие входа выставляются под мьютексом реестра, чтобы
	// отключение не попало в inbox раньше входа
	c.hub.mu.Lock()
	if c.hub.conns[c.id] == c {
		c.authed.Store(true)
		c.hub.inbox = append(c.hub.inbox, eventbus.PlayerJoined{NetID: c.id, PID: pid})
	}
	c.hub.mu.Unlock()
	return c.authed.Load()
}

func (c *conn) reply(msgType string, payload interface{}) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
