package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

// wsRequest is a client message on /ws: {"cmd":"feedhold"}.
type wsRequest struct {
	Cmd string `json:"cmd"`
}

// HandleWS upgrades GET /ws to a websocket. The client receives the same
// events as the SSE stream, starting with the last status snapshot, and
// may send {"cmd":"reset"|"feedhold"|"cyclestart"}.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error(errors.Wrap(err, "websocket upgrade"))
		return
	}
	ch, unsub := h.Broadcaster.Subscribe()
	done := make(chan struct{})

	go h.wsReadPump(conn, done)

	defer func() {
		unsub()
		conn.Close()
	}()

	if h.Status != nil {
		data, err := json.Marshal(h.Status.Last())
		if err == nil {
			evt, _ := json.Marshal(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: "status", Data: data})
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, evt); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// wsReadPump handles client commands until the connection fails, then
// closes done.
func (h *Handlers) wsReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Error(errors.Wrap(err, "websocket read"))
			}
			return
		}
		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil || !h.command(req.Cmd) {
			h.Broadcaster.Broadcast("error", "unknown websocket request: "+string(message))
		}
	}
}
