package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/niklaspandersson/dicebox/internal/signaling"
	"github.com/niklaspandersson/dicebox/internal/store"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := signaling.NewHub(store.NewMemory(), cfg.Hub(), nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	s := New(hub, cfg, logger)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return s, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, Config{MaxConnsPerIP: 10})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestServeWsHello(t *testing.T) {
	_, srv := newTestServer(t, Config{MaxConnsPerIP: 10})
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(signaling.Message{Type: signaling.TypeHello, SessionToken: uuid.NewString()}); err != nil {
		t.Fatal(err)
	}
	var m signaling.Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	if m.Type != signaling.TypePeerID || !signaling.ValidPeerID(m.PeerID) {
		t.Fatalf("reply = %+v", m)
	}
}

func TestOriginAllowList(t *testing.T) {
	_, srv := newTestServer(t, Config{MaxConnsPerIP: 10, AllowedOrigins: []string{"https://dice.example"}})

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), h)
	if err == nil {
		t.Fatal("foreign origin was upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin response = %v", resp)
	}

	h.Set("Origin", "https://dice.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), h)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("no origin: %v", err)
	}
	conn.Close()
}

func TestPerIPConnectionCap(t *testing.T) {
	s, srv := newTestServer(t, Config{MaxConnsPerIP: 2})

	var open []*websocket.Conn
	for range 2 {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		if err != nil {
			t.Fatal(err)
		}
		open = append(open, conn)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatal("third connection was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third connection response = %v", resp)
	}

	open[0].Close()
	deadline := time.Now().Add(2 * time.Second)
	for s.conns.count("127.0.0.1") >= 2 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection never released its slot")
		}
		time.Sleep(10 * time.Millisecond)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial after release: %v", err)
	}
	conn.Close()
	open[1].Close()
}
