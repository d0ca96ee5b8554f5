package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/training"
	"github.com/gorilla/websocket"
)

const (
	// liveRefresh resends the training status so hand visibility stays current.
	liveRefresh = 250 * time.Millisecond

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// liveMessage is one pushed update.
type liveMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LiveHandler pushes practice and training state changes over WebSocket.
type LiveHandler struct {
	practice *practice.Controller
	panel    *training.Panel
}

// NewLiveHandler creates a LiveHandler. Either source may be nil.
func NewLiveHandler(p *practice.Controller, panel *training.Panel) *LiveHandler {
	return &LiveHandler{practice: p, panel: panel}
}

// ServeHTTP upgrades the connection and streams updates until the client
// disconnects.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	var (
		practiceCh <-chan practice.Snapshot
		trainingCh <-chan training.Status
		refresh    <-chan time.Time
	)
	if h.practice != nil {
		ch, cancel := h.practice.Subscribe()
		defer cancel()
		practiceCh = ch
	}
	if h.panel != nil {
		ch, cancel := h.panel.Subscribe()
		defer cancel()
		trainingCh = ch

		ticker := time.NewTicker(liveRefresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	// The read loop only exists to notice the close and answer pings
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg liveMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("websocket write failed", "err", err)
			return false
		}
		return true
	}

	if h.practice != nil && !send(liveMessage{Type: "practice", Data: h.practice.Snapshot()}) {
		return
	}
	if h.panel != nil && !send(liveMessage{Type: "training", Data: h.panel.Status()}) {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var ok bool
		select {
		case <-closed:
			return
		case snap, open := <-practiceCh:
			if !open {
				return
			}
			ok = send(liveMessage{Type: "practice", Data: snap})
		case st, open := <-trainingCh:
			if !open {
				return
			}
			ok = send(liveMessage{Type: "training", Data: st})
		case <-refresh:
			ok = send(liveMessage{Type: "training", Data: h.panel.Status()})
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			ok = conn.WriteMessage(websocket.PingMessage, nil) == nil
		}
		if !ok {
			return
		}
	}
}
