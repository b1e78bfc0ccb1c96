package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"scrollglide/internal/physics"
	"scrollglide/internal/router"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// The hub tests use clients with a nil connection; the hub never writes to
// it, and eviction guards against nil.
func fakeClient(hub *Hub, name string, buf int) *Client {
	return &Client{hub: hub, send: make(chan []byte, buf), remoteAddr: name, logger: slog.Default()}
}

func startHub(t *testing.T, cfg HubConfig) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(slog.Default(), cfg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return hub, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for hub to stop")
		}
	}
}

func register(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatalf("%s: send channel closed", c.remoteAddr)
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("%s: bad frame %q: %v", c.remoteAddr, msg, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("%s: timeout waiting for frame", c.remoteAddr)
	}
	return Envelope{}
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub, stop := startHub(t, HubConfig{SendBuf: 4, BroadcastBuf: 8})
	defer stop()

	c1 := fakeClient(hub, "c1", 4)
	c2 := fakeClient(hub, "c2", 4)
	register(t, hub, c1)
	register(t, hub, c2)

	msg := []byte(`{"type":"status","data":{"enabled":true}}`)
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s", c.remoteAddr)
		}
	}
	if n := hub.ClientCount(); n != 2 {
		t.Fatalf("ClientCount = %d, want 2", n)
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub, stop := startHub(t, HubConfig{SendBuf: 1, BroadcastBuf: 8})
	defer stop()

	slow := fakeClient(hub, "slow", 1)
	fast := fakeClient(hub, "fast", 8)
	register(t, hub, slow)
	register(t, hub, fast)

	hub.broadcast <- []byte(`{"type":"a"}`)
	hub.broadcast <- []byte(`{"type":"b"}`)

	waitUntil(t, time.Second, func() bool { return hub.ClientCount() == 1 }, "slow client not evicted")

	// The fast client still got both frames.
	for _, want := range []string{"a", "b"} {
		if env := receive(t, fast); env.Type != want {
			t.Fatalf("fast got %q, want %q", env.Type, want)
		}
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, stop := startHub(t, HubConfig{})
	c := fakeClient(hub, "c", 1)
	register(t, hub, c)
	stop()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
}

func TestPublisher_CoalescesMotion(t *testing.T) {
	hub, stopHub := startHub(t, HubConfig{SendBuf: 16})
	defer stopHub()
	c := fakeClient(hub, "viewer", 16)
	register(t, hub, c)

	pub := NewPublisher(hub, 20, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	for _, d := range []int32{10, 7, 5} {
		_ = pub.Emit(physics.Command{Axis: physics.Vertical, Delta: d, Target: 3, Signature: physics.Signature})
	}
	_ = pub.Emit(physics.Command{Axis: physics.Horizontal, Delta: -4, Target: 3, Signature: physics.Signature})

	env := receive(t, c)
	if env.Type != FrameMotion {
		t.Fatalf("frame type = %q, want motion", env.Type)
	}
	var m MotionData
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Vertical != 22 || m.Horizontal != -4 || m.Commands != 4 || m.Target != 3 {
		t.Fatalf("motion = %+v", m)
	}

	select {
	case extra := <-c.send:
		t.Fatalf("expected one coalesced frame, got extra %q", extra)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestPublisher_FlushesMotionBeforeOtherFrames(t *testing.T) {
	hub, stopHub := startHub(t, HubConfig{SendBuf: 16})
	defer stopHub()
	c := fakeClient(hub, "viewer", 16)
	register(t, hub, c)

	// A long window proves the flush comes from ordering, not the timer.
	pub := NewPublisher(hub, 1, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	_ = pub.Emit(physics.Command{Axis: physics.Vertical, Delta: 9})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pub.Activity(router.Activity{ProcessName: "firefox", Delta: 168, Axis: physics.Vertical, At: at})
	pub.Status(StatusData{Enabled: true, Installed: true})

	if env := receive(t, c); env.Type != FrameMotion {
		t.Fatalf("first frame = %q, want motion", env.Type)
	}

	env := receive(t, c)
	if env.Type != FrameActivity {
		t.Fatalf("second frame = %q, want activity", env.Type)
	}
	if env.Ts == nil || !env.Ts.Equal(at) {
		t.Fatalf("activity ts = %v, want %v", env.Ts, at)
	}
	var a ActivityData
	if err := json.Unmarshal(env.Data, &a); err != nil {
		t.Fatal(err)
	}
	if a != (ActivityData{Process: "firefox", Delta: 168, Axis: "vertical"}) {
		t.Fatalf("activity = %+v", a)
	}

	if env := receive(t, c); env.Type != FrameStatus {
		t.Fatalf("third frame = %q, want status", env.Type)
	}
}

func TestServer_StatusInitThenBroadcasts(t *testing.T) {
	hub, stopHub := startHub(t, HubConfig{})
	defer stopHub()

	srv := NewServer(hub, func() StatusData {
		return StatusData{Enabled: true, Installed: true, Stats: router.Stats{Accepted: 7}}
	}, slog.Default())
	mux := http.NewServeMux()
	srv.Register(mux, DefaultPath)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + DefaultPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read status_init: %v", err)
	}
	if env.Type != FrameStatusInit {
		t.Fatalf("first frame = %q, want status_init", env.Type)
	}
	var st StatusData
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if !st.Enabled || st.Stats.Accepted != 7 {
		t.Fatalf("status = %+v", st)
	}

	waitUntil(t, time.Second, func() bool { return hub.ClientCount() == 1 }, "client not registered")
	hub.BroadcastBytes([]byte(`{"type":"status"}`))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if env.Type != FrameStatus {
		t.Fatalf("broadcast type = %q", env.Type)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, "127.0.0.1:0", http.NewServeMux(), slog.Default()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	if err := Serve(context.Background(), "not-an-address", http.NewServeMux(), slog.Default()); err == nil {
		t.Fatal("expected listen error")
	}
}
