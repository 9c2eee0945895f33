package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chorekeep/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-device clients only; the reverse proxy handles origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Sync streams dispatcher events to the client over a WebSocket. Each
// connection gets its own subscription; slow clients are disconnected
// rather than allowed to stall the dispatcher.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("sync: upgrade failed: %v", err)
		return
	}

	events := make(chan bus.Event, 64)
	var once sync.Once
	closed := make(chan struct{})
	unsubscribe := h.disp.Subscribe(func(e bus.Event) {
		select {
		case events <- e:
		default:
			// Buffer full: the client is too slow, drop the connection
			// and let it resync via polling on reconnect.
			once.Do(func() { close(closed) })
		}
	})

	go func() {
		defer unsubscribe()
		defer conn.Close()
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case e := <-events:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}()

	// Reader loop: the client sends nothing we act on, but reading is
	// required to process control frames and notice disconnects.
	go func() {
		defer once.Do(func() { close(closed) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
