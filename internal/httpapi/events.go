package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second

	// clientQueue is the per-subscriber send buffer.  A subscriber that
	// falls this far behind gets dropped instead of stalling the hub.
	clientQueue = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API carries no cookies, so an origin check buys nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventsHub broadcasts engine events to websocket subscribers.  It
// implements the engine's event sink: Publish never blocks, delivery is
// best-effort.
type EventsHub struct {
	log        *zap.Logger
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
}

func NewEventsHub(log *zap.Logger) *EventsHub {
	h := &EventsHub{
		log:        log,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// run owns the subscriber set.  Register, unregister and broadcast all
// funnel through this goroutine, so the map needs no lock.
func (h *EventsHub) run() {
	clients := make(map[*wsClient]bool)
	defer func() {
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			clients[c] = true
			h.log.Debug("event subscriber connected", zap.Int("subscribers", len(clients)))
		case c := <-h.unregister:
			if clients[c] {
				delete(clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					// Too far behind; drop the subscriber rather than
					// stall everyone else.
					delete(clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Publish implements the engine event sink.
func (h *EventsHub) Publish(ev types.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("event marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("event dropped, broadcast queue full", zap.String("type", string(ev.Type)))
	}
}

// Close shuts the hub down and disconnects every subscriber.
func (h *EventsHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// handleEvents upgrades the request and streams events until the client
// goes away.
func (h *EventsHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{conn: ws, send: make(chan []byte, clientQueue)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = ws.Close()
		return
	}

	go c.writePump()
	c.readPump(h)
}

// readPump drains the connection.  The stream is one-way; inbound frames
// are discarded, but reading is what services pong control frames and
// detects a gone client.
func (c *wsClient) readPump(h *EventsHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
