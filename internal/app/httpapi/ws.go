package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/storefront/internal/app/events"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 32
)

// orderFeed streams order events to back-office websocket clients.
type orderFeed struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func newOrderFeed(bus *events.Bus, allowOrigin func(string) bool, log *logger.Logger) *orderFeed {
	return &orderFeed{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
					return true
				}
				return allowOrigin != nil && allowOrigin(origin)
			},
		},
	}
}

func (f *orderFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe first so no event published after the handshake is missed.
	ch, unsubscribe := f.bus.Subscribe(wsBuffer)
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		// Upgrade has already written the error response.
		f.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}

	entry := f.log.WithContext(r.Context())
	entry.Info("order feed client connected")

	// The read loop only services control frames; clients send nothing.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
		<-done
		entry.Info("order feed client disconnected")
	}()

	for {
		select {
		case <-done:
			return
		case e, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
