package web

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return StatusEvent{}
}

func TestBroadcaster_Events(t *testing.T) {
	cases := []struct {
		name  string
		send  func(b *StatusBroadcaster)
		level string
		msg   string
		data  string
	}{
		{"broadcast", func(b *StatusBroadcaster) { b.Broadcast("error", "boom") }, "error", "boom", ""},
		{"broadcast_msg", func(b *StatusBroadcaster) { b.BroadcastMsg("hello") }, "info", "hello", ""},
		{"publish", func(b *StatusBroadcaster) {
			b.Publish("queue", map[string]int{"queued": 4})
		}, "queue", "", `{"queued":4}`},
		{"publish_unencodable", func(b *StatusBroadcaster) {
			b.Publish("status", math.Inf(1))
		}, "error", "", ""},
		{"writer", func(b *StatusBroadcaster) {
			BroadcastWriter(b).Write([]byte("  trimmed line  \n"))
		}, "info", "trimmed line", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewStatusBroadcaster()
			ch, unsub := b.Subscribe()
			defer unsub()

			tc.send(b)
			evt := receive(t, ch)

			if evt.Level != tc.level {
				t.Errorf("level = %q, want %q", evt.Level, tc.level)
			}
			if tc.msg != "" && evt.Msg != tc.msg {
				t.Errorf("msg = %q, want %q", evt.Msg, tc.msg)
			}
			if tc.data != "" && string(evt.Data) != tc.data {
				t.Errorf("data = %s, want %s", evt.Data, tc.data)
			}
			if evt.Time == "" {
				t.Error("event should have a timestamp")
			}
		})
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	if n := b.Clients(); n != 2 {
		t.Fatalf("clients = %d, want 2", n)
	}
	b.Broadcast("info", "multi")
	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if n := b.Clients(); n != 0 {
		t.Errorf("clients = %d, want 0", n)
	}
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < clientBuffer+5; i++ {
		b.Broadcast("info", "fill")
	}

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != clientBuffer {
		t.Errorf("expected %d buffered messages, got %d", clientBuffer, count)
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	n, err := BroadcastWriter(b).Write([]byte("   \n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}
