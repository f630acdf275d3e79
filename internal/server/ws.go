package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// message is one frame pushed to websocket clients.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

// reader discards client frames and signals done when the peer goes away.
func (c *connection) reader() {
	defer close(c.done)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *connection) writer() error {
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-c.done:
			return nil
		}
	}
}

// handleWebsocket streams orchestrator snapshots and alert log events. The
// current state is sent first.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrading websocket", "error", err)
		return
	}
	defer ws.Close()

	snaps, cancelSnaps := s.orch.Subscribe()
	defer cancelSnaps()
	events, cancelEvents := s.disp.Subscribe()
	defer cancelEvents()

	c := &connection{ws: ws, send: make(chan []byte, 16), done: make(chan struct{})}
	go c.reader()

	c.push(s, message{Type: "state", Data: s.orch.Snapshot()})
	go func() {
		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				c.push(s, message{Type: "state", Data: snap})
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.push(s, message{Type: "notification", Data: ev})
			case <-c.done:
				return
			}
		}
	}()

	if err := c.writer(); err != nil {
		s.logger.Debug("websocket closed", "error", err)
	}
}

// push queues a frame, dropping it when the client is behind.
func (c *connection) push(s *Server, m message) {
	b, err := json.Marshal(m)
	if err != nil {
		s.logger.Error("encoding websocket message", "error", err)
		return
	}
	select {
	case c.send <- b:
	default:
		s.logger.Debug("websocket client behind, dropping frame", "type", m.Type)
	}
}
