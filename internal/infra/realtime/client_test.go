package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/realtime"
)

func TestWebsocketURL(t *testing.T) {
	got := realtime.WebsocketURL("https://abc.supabase.co/", "key")
	want := "wss://abc.supabase.co/realtime/v1/websocket?apikey=key&vsn=1.0.0"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := realtime.WebsocketURL("http://localhost:54321", "k"); !strings.HasPrefix(got, "ws://localhost:54321/") {
		t.Errorf("unexpected url %s", got)
	}
}

func TestDecodeChangeEnvelope(t *testing.T) {
	payload := json.RawMessage(`{"data":{"schema":"public","table":"notifications","type":"UPDATE",
		"record":{"id":"n1","user_id":"u1","is_read":true},
		"old_record":{"id":"n1","is_read":false},
		"commit_timestamp":"2024-05-01T10:00:00.123Z"},"ids":[1]}`)

	ev, ok := realtime.DecodeChange("postgres_changes", payload)
	if !ok {
		t.Fatal("expected event to decode")
	}
	if ev.Type != domain.ChangeUpdate || ev.Table != "notifications" {
		t.Errorf("unexpected event %+v", ev)
	}
	if read, _ := domain.BoolField(ev.OldRecord, "is_read"); read {
		t.Error("old record should be unread")
	}
	if ev.CommitAt.IsZero() {
		t.Error("commit timestamp not parsed")
	}
}

func TestDecodeChangeLegacyAndUnknown(t *testing.T) {
	ev, ok := realtime.DecodeChange("INSERT", json.RawMessage(`{"schema":"public","table":"messages","record":{"id":"m1"}}`))
	if !ok || ev.Type != domain.ChangeInsert || ev.OldRecord != nil {
		t.Errorf("unexpected legacy decode: %+v ok=%v", ev, ok)
	}
	if _, ok := realtime.DecodeChange("phx_reply", json.RawMessage(`{}`)); ok {
		t.Error("replies must not decode as changes")
	}
	if _, ok := realtime.DecodeChange("postgres_changes", json.RawMessage(`{"data":{"type":"TRUNCATE"}}`)); ok {
		t.Error("unknown change types must be dropped")
	}
}

func TestRunJoinsAndDispatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join map[string]any
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joined <- join

		_ = conn.WriteJSON(map[string]any{
			"topic": join["topic"], "event": "phx_reply", "ref": join["ref"],
			"payload": map[string]any{"status": "ok"},
		})
		_ = conn.WriteJSON(map[string]any{
			"topic": join["topic"], "event": "postgres_changes", "ref": nil,
			"payload": map[string]any{"data": map[string]any{
				"schema": "public", "table": "notifications", "type": "INSERT",
				"record": map[string]any{"id": "n1", "user_id": "u1", "type": "message", "is_read": false},
			}},
		})
		// keep reading so heartbeats do not fail
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := realtime.NewClient(srv.URL, "anon", zap.NewNop(), realtime.WithHeartbeat(50*time.Millisecond))
	c.Subscribe(realtime.Subscription{Table: "notifications"})

	connected := make(chan struct{}, 1)
	c.OnConnect(func(context.Context) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan domain.ChangeEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, ev domain.ChangeEvent) {
			select {
			case got <- ev:
			default:
			}
		})
	}()

	select {
	case join := <-joined:
		if join["topic"] != "realtime:public:notifications" || join["event"] != "phx_join" {
			t.Errorf("unexpected join %v", join)
		}
	case <-ctx.Done():
		t.Fatal("no join received")
	}

	select {
	case ev := <-got:
		if ev.Type != domain.ChangeInsert || domain.StringField(ev.Record, "user_id") != "u1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event dispatched")
	}

	select {
	case <-connected:
	case <-ctx.Done():
		t.Error("OnConnect was not called")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("run returned %v", err)
	}
}

// fakeRealtime upgrades every connection, answers the join and hands the
// connection to serve. It counts connections.
func fakeRealtime(t *testing.T, serve func(conn *websocket.Conn, topic any, n int32)) (*httptest.Server, *int32) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&conns, 1)

		var join map[string]any
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"topic": join["topic"], "event": "phx_reply", "ref": join["ref"],
			"payload": map[string]any{"status": "ok"},
		})
		serve(conn, join["topic"], n)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func insertFrame(topic any, id string) map[string]any {
	return map[string]any{
		"topic": topic, "event": "postgres_changes", "ref": nil,
		"payload": map[string]any{"data": map[string]any{
			"schema": "public", "table": "notifications", "type": "INSERT",
			"record": map[string]any{"id": id, "user_id": "u1", "type": "message", "is_read": false},
		}},
	}
}

func TestRunRejoinsAfterChannelError(t *testing.T) {
	srv, conns := fakeRealtime(t, func(conn *websocket.Conn, topic any, n int32) {
		if n == 1 {
			_ = conn.WriteJSON(map[string]any{"topic": topic, "event": "phx_error", "ref": nil, "payload": map[string]any{}})
			return
		}
		_ = conn.WriteJSON(insertFrame(topic, "after-rejoin"))
	})

	c := realtime.NewClient(srv.URL, "anon", zap.NewNop(),
		realtime.WithHeartbeat(time.Second),
		realtime.WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond))
	c.Subscribe(realtime.Subscription{Table: "notifications"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		_ = c.Run(ctx, func(_ context.Context, ev domain.ChangeEvent) {
			select {
			case got <- domain.StringField(ev.Record, "id"):
			default:
			}
		})
	}()

	select {
	case id := <-got:
		if id != "after-rejoin" {
			t.Errorf("unexpected event %s", id)
		}
	case <-ctx.Done():
		t.Fatal("client did not reconnect after the channel errored")
	}
	if n := atomic.LoadInt32(conns); n < 2 {
		t.Errorf("expected a second connection, got %d", n)
	}
}

func TestRunDispatchesWhileResyncing(t *testing.T) {
	srv, _ := fakeRealtime(t, func(conn *websocket.Conn, topic any, _ int32) {
		_ = conn.WriteJSON(insertFrame(topic, "n1"))
	})

	c := realtime.NewClient(srv.URL, "anon", zap.NewNop(), realtime.WithHeartbeat(time.Second))
	c.Subscribe(realtime.Subscription{Table: "notifications"})

	handled := make(chan struct{})
	resynced := make(chan bool, 1)
	c.OnConnect(func(ctx context.Context) {
		select {
		case <-handled:
			resynced <- true
		case <-ctx.Done():
			resynced <- false
		case <-time.After(2 * time.Second):
			resynced <- false
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var once int32
	go func() {
		_ = c.Run(ctx, func(context.Context, domain.ChangeEvent) {
			if atomic.CompareAndSwapInt32(&once, 0, 1) {
				close(handled)
			}
		})
	}()

	select {
	case ok := <-resynced:
		if !ok {
			t.Error("events were not dispatched while OnConnect was running")
		}
	case <-ctx.Done():
		t.Fatal("OnConnect never finished")
	}
}
