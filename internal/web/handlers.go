package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/StepGo/internal/logic/report"
)

// StatusSource returns the last status snapshot of the control loop.
type StatusSource interface {
	Last() report.Status
}

// Control forwards operator requests to the control loop. Every method
// must be safe to call from an HTTP goroutine.
type Control interface {
	RequestReset()
	RequestFeedhold()
	RequestCycleStart()
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Status      StatusSource
	Control     Control
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers. With a nil control the request endpoints
// answer 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, status StatusSource, control Control, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Status:      status,
		Control:     control,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleStatus returns the last status snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Status.Last())
}

// command maps a request name to the control call.
func (h *Handlers) command(name string) bool {
	if h.Control == nil {
		return false
	}
	switch name {
	case "reset":
		h.Control.RequestReset()
	case "feedhold":
		h.Control.RequestFeedhold()
	case "cyclestart":
		h.Control.RequestCycleStart()
	default:
		return false
	}
	h.Broadcaster.Broadcast("info", "request: "+name)
	return true
}

// HandleControl returns the handler for POST /reset, /feedhold and
// /cyclestart. Requests are latched; the loop services them on its next pass.
func (h *Handlers) HandleControl(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.Control == nil {
			http.Error(w, "controller not running", http.StatusServiceUnavailable)
			return
		}
		h.command(name)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "request": name})
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
