package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/journal"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	defer a.Close()
	b := dial(t, srv)
	defer b.Close()
	waitClients(t, hub, 2)

	ev := journal.NewEvent(journal.Entry, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	ev.Symbol = "BTCUSDT"
	ev.Side = "BUY"
	hub.Publish(ev)

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var got journal.TradeEvent
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != ev.ID || got.Type != journal.Entry || got.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected event %+v", got)
		}
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)
	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Publish(journal.NewEvent(journal.Exit, time.Now()))
	if hub.Clients() != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.Close()
	waitClients(t, hub, 0)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection closed after hub close")
	}
}
