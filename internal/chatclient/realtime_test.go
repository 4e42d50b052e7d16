package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"nhooyr.io/websocket"
)

func writeEvent(ctx context.Context, conn *websocket.Conn, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func TestReconnectorBacksOffWithinBounds(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: time.Second, maxAttempts: 5}

	first := r.nextDelay()
	if first < 100*time.Millisecond || first > 150*time.Millisecond {
		t.Fatalf("first delay %v outside [100ms, 150ms]", first)
	}
	for i := 0; i < 3; i++ {
		r.nextDelay()
	}
	if capped := r.nextDelay(); capped != time.Second {
		t.Fatalf("expected delay capped at 1s, got %v", capped)
	}
	if r.shouldReconnect() {
		t.Fatalf("expected attempts to be exhausted")
	}

	r.reset()
	if !r.shouldReconnect() {
		t.Fatalf("expected reset to allow reconnecting")
	}
}

func TestRealtimeRelaysCommandsAndEvents(t *testing.T) {
	var gotToken atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("token"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		if err := writeEvent(ctx, conn, models.Event{Type: models.EventConnected}); err != nil {
			return
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var cmd models.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				return
			}
			if cmd.Type == models.CommandJoinRoom {
				_ = writeEvent(ctx, conn, models.Event{Type: models.EventRoomJoined, ChatID: cmd.ChatID})
			}
		}
	}))
	defer server.Close()

	rt := NewRealtime(server.URL, RealtimeConfig{Token: "a b"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer rt.Close()

	if token, _ := gotToken.Load().(string); token != "a b" {
		t.Fatalf("expected token to round-trip, got %q", token)
	}

	if err := rt.Send(ctx, models.Command{Type: models.CommandJoinRoom, ChatID: 42}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	select {
	case event := <-rt.Events():
		if event.Type != models.EventRoomJoined || event.ChatID != 42 {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for room_joined")
	}
}

func TestRealtimeConnectRequiresConnectedEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = writeEvent(r.Context(), conn, models.Event{Type: models.EventError, Error: "nope"})
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	rt := NewRealtime(server.URL, RealtimeConfig{Token: "t"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err == nil {
		rt.Close()
		t.Fatalf("expected Connect to fail without a connected event")
	}
	if err := rt.Send(ctx, models.Command{Type: models.CommandPing}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRealtimeSignalsReconnect(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		ctx := r.Context()
		if err := writeEvent(ctx, conn, models.Event{Type: models.EventConnected}); err != nil {
			return
		}
		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rt := NewRealtime(server.URL, RealtimeConfig{
		Token:              "t",
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer rt.Close()

	select {
	case <-rt.Reconnects():
	case <-ctx.Done():
		t.Fatalf("timed out waiting for reconnect")
	}
	if got := connections.Load(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
	if err := rt.Send(ctx, models.Command{Type: models.CommandPing}); err != nil {
		t.Fatalf("Send after reconnect returned error: %v", err)
	}
}
