package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/StepGo/internal/logic/report"
)

// ---------- fakes ----------

type fixedStatus struct {
	s report.Status
}

func (f fixedStatus) Last() report.Status { return f.s }

type recordingControl struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingControl) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

func (c *recordingControl) RequestReset()      { c.record("reset") }
func (c *recordingControl) RequestFeedhold()   { c.record("feedhold") }
func (c *recordingControl) RequestCycleStart() { c.record("cyclestart") }

func (c *recordingControl) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func testStatus() report.Status {
	s := report.Status{State: "ready", Intake: "prompt", Queued: 2, Available: 30}
	s.Position[0] = 12.5
	return s
}

func newTestHandlers(control Control) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(NewStatusBroadcaster(), fixedStatus{testStatus()}, control, staticFS)
}

// waitClients blocks until the broadcaster has n subscribers.
func waitClients(t *testing.T, b *StatusBroadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", b.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------- HandleStatus ----------

func TestHandleStatus(t *testing.T) {
	h := newTestHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var s report.Status
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.State != "ready" || s.Queued != 2 || s.Position[0] != 12.5 {
		t.Errorf("status = %+v", s)
	}
}

func TestHandleStatus_NoSource(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, nil, fstest.MapFS{})
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandleControl ----------

func TestHandleControl(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		control bool
		code    int
	}{
		{"reset", http.MethodPost, true, http.StatusAccepted},
		{"feedhold", http.MethodPost, true, http.StatusAccepted},
		{"cyclestart", http.MethodPost, true, http.StatusAccepted},
		{"feedhold", http.MethodGet, true, http.StatusMethodNotAllowed},
		{"reset", http.MethodPost, false, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.method+"_"+tc.name, func(t *testing.T) {
			ctl := &recordingControl{}
			var h *Handlers
			if tc.control {
				h = newTestHandlers(ctl)
			} else {
				h = newTestHandlers(nil)
			}
			w := httptest.NewRecorder()
			h.HandleControl(tc.name)(w, httptest.NewRequest(tc.method, "/"+tc.name, nil))

			if w.Code != tc.code {
				t.Fatalf("status = %d, want %d", w.Code, tc.code)
			}
			calls := ctl.Calls()
			if tc.code == http.StatusAccepted {
				if len(calls) != 1 || calls[0] != tc.name {
					t.Errorf("calls = %v, want [%s]", calls, tc.name)
				}
			} else if len(calls) != 0 {
				t.Errorf("calls = %v, want none", calls)
			}
		})
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, nil, fstest.MapFS{})
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- streams ----------

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}

	waitClients(t, h.Broadcaster, 1)
	h.Broadcaster.Publish(report.KindQueue, report.Queue{Queued: 3, Available: 29})

	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt StatusEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Level != report.KindQueue {
		t.Errorf("level = %q, want %q", evt.Level, report.KindQueue)
	}
	var q report.Queue
	if err := json.Unmarshal(evt.Data, &q); err != nil || q.Queued != 3 {
		t.Errorf("data = %s, %v", evt.Data, err)
	}
}

func TestHandleWS(t *testing.T) {
	ctl := &recordingControl{}
	h := newTestHandlers(ctl)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var evt StatusEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if evt.Level != report.KindStatus {
		t.Fatalf("first event level = %q, want %q", evt.Level, report.KindStatus)
	}
	var s report.Status
	if err := json.Unmarshal(evt.Data, &s); err != nil || s.State != "ready" {
		t.Errorf("first status = %+v, %v", s, err)
	}

	if err := conn.WriteJSON(wsRequest{Cmd: "feedhold"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		var e StatusEvent
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Msg == "request: feedhold" {
			break
		}
	}
	if calls := ctl.Calls(); len(calls) != 1 || calls[0] != "feedhold" {
		t.Errorf("calls = %v, want [feedhold]", calls)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("bogus")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		var e StatusEvent
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Level == "error" {
			if !strings.Contains(e.Msg, "bogus") {
				t.Errorf("error msg = %q", e.Msg)
			}
			break
		}
	}
}

// ---------- Server ----------

func TestServerRoutes(t *testing.T) {
	ctl := &recordingControl{}
	s, err := NewServer(":0", NewStatusBroadcaster(), fixedStatus{testStatus()}, ctl)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	cases := []struct {
		method string
		path   string
		code   int
		body   string
	}{
		{http.MethodGet, "/", http.StatusOK, "StepGo"},
		{http.MethodGet, "/status", http.StatusOK, `"state":"ready"`},
		{http.MethodPost, "/cyclestart", http.StatusAccepted, "accepted"},
		{http.MethodGet, "/nothing", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.code)
			}
			var sb strings.Builder
			bufio.NewReader(resp.Body).WriteTo(&sb)
			if !strings.Contains(sb.String(), tc.body) {
				t.Errorf("body %q does not contain %q", sb.String(), tc.body)
			}
		})
	}
	if calls := ctl.Calls(); len(calls) != 1 || calls[0] != "cyclestart" {
		t.Errorf("calls = %v, want [cyclestart]", calls)
	}
}
