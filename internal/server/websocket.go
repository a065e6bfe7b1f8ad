package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/chordwatch/internal/session"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second

	// snapshots arrive every monitor tick; the browser does not need more
	wsMinInterval = 50 * time.Millisecond
)

// wsCommand is a message sent by the browser
type wsCommand struct {
	Action string `json:"action"`
}

// handleWebSocket pushes status updates until the client goes away
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.service.Subscribe()
	defer unsubscribe()

	slog.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go s.readCommands(conn, done)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	var (
		last     session.Snapshot
		lastSent time.Time
		sent     bool
	)
	for {
		select {
		case <-done:
			slog.Debug("WebSocket client disconnected", "remote", r.RemoteAddr)
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			// volume-only updates are throttled, state changes are not
			if sent && time.Since(lastSent) < wsMinInterval && sameState(last, snap) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(s.statusFrom(snap)); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
			last, lastSent, sent = snap, time.Now(), true
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sameState reports whether two snapshots differ only in volume
func sameState(a, b session.Snapshot) bool {
	return a.State == b.State &&
		a.Status == b.Status &&
		a.Error == b.Error &&
		a.Chord == b.Chord &&
		a.Cycles == b.Cycles &&
		a.Threshold == b.Threshold
}

// readCommands handles browser actions and closes done when the connection
// ends
func (s *Server) readCommands(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Debug("Ignoring malformed websocket message", "error", err)
			continue
		}

		var actionErr error
		switch cmd.Action {
		case "start":
			actionErr = s.service.StartListening(context.Background())
		case "stop":
			actionErr = s.service.StopListening()
		case "toggle":
			actionErr = s.service.ToggleListening(context.Background())
		default:
			slog.Debug("Unknown websocket action", "action", cmd.Action)
			continue
		}
		if actionErr != nil {
			slog.Warn("WebSocket action failed", "action", cmd.Action, "error", actionErr)
		}
	}
}
