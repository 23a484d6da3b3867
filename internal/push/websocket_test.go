package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func fastBackoff() *retry.Policy {
	return retry.New(retry.Options{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, zap.NewNop())
}

func nextEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for push event")
	}
	return bus.Event{}
}

func TestStreamPublishesDecodedFrames(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		_ = wsjson.Write(r.Context(), c, map[string]any{"type": "bogus"})
		_ = wsjson.Write(r.Context(), c, map[string]any{
			"type": "message",
			"data": map[string]any{"id": "m1", "from": "alice", "to": "me", "body": "hi"},
		})
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	b := bus.New()
	ch, unsub := b.Subscribe(remote.Namespace, 16)
	defer unsub()

	s := NewStream(srv.URL, "secret", b, fastBackoff(), zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	evt := nextEvent(t, ch)
	m, ok := evt.Payload.(remote.MessageEvent)
	if !ok {
		t.Fatalf("payload = %T, want MessageEvent (unknown frames must be dropped)", evt.Payload)
	}
	if m.Message.ID != "m1" || evt.Kind != m.Kind() {
		t.Errorf("event = %+v", evt)
	}
	if got, _ := auth.Load().(string); got != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", got)
	}
}

func TestStreamRequestsResyncAfterReconnect(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			// First connection drops straight away.
			_ = c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer c.CloseNow()
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	b := bus.New()
	ch, unsub := b.Subscribe(remote.Namespace, 16)
	defer unsub()

	s := NewStream(srv.URL, "", b, fastBackoff(), zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	evt := nextEvent(t, ch)
	r, ok := evt.Payload.(remote.ResyncEvent)
	if !ok {
		t.Fatalf("payload = %T, want ResyncEvent", evt.Payload)
	}
	if !strings.Contains(r.Reason, "reconnected") {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestStreamStopWhileDialFails(t *testing.T) {
	b := bus.New()
	s := NewStream("http://127.0.0.1:1", "", b, fastBackoff(), zap.NewNop())
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestDispatchRejectsUnknownFrames(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(remote.Namespace, 4)
	defer unsub()

	if _, err := dispatch(b, []byte(`{"type":"typing","data":{}}`)); err == nil {
		t.Fatal("expected error for unknown frame")
	}
	if _, err := dispatch(b, []byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	ev, err := dispatch(b, []byte(`{"type":"logout"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ev.(remote.LifecycleEvent).Type != remote.LifecycleLogout {
		t.Errorf("event = %+v", ev)
	}

	if got := nextEvent(t, ch); got.Kind != ev.Kind() {
		t.Errorf("published kind = %q", got.Kind)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected event published: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
