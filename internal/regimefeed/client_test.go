package regimefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"strategy-lab/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testConfig() *Config {
	return &Config{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		PingInterval:      time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func next(t *testing.T, c *Client) Update {
	t.Helper()
	select {
	case u := <-c.Updates():
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for update")
	}
	return Update{}
}

func TestClient_DeliversChangesOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Channel != "regime" || len(sub.Symbols) != 1 || sub.Symbols[0] != "BTC-USD" {
			t.Errorf("unexpected subscription: %+v", sub)
		}

		for _, m := range []regimeMessage{
			{Type: "regime", Regime: "TRENDING_STRONG", Symbol: "BTC-USD", Timestamp: 1},
			{Type: "regime", Regime: "TRENDING_STRONG", Symbol: "BTC-USD", Timestamp: 2},
			{Type: "heartbeat"},
			{Type: "regime", Regime: "SIDEWAYS_ISH"},
			{Type: "regime", Regime: "RANGING", Symbol: "BTC-USD", Timestamp: 3},
		} {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c, err := Dial(context.Background(), wsURL(server), []string{"BTC-USD"}, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	u := next(t, c)
	if u.Regime != domain.RegimeTrendingStrong || u.Previous != domain.RegimeUnknown {
		t.Errorf("first update = %+v", u)
	}
	u = next(t, c)
	if u.Regime != domain.RegimeRanging || u.Previous != domain.RegimeTrendingStrong || u.At != 3 {
		t.Errorf("second update = %+v", u)
	}
	if c.Current() != domain.RegimeRanging {
		t.Errorf("current = %s, want RANGING", c.Current())
	}
}

func TestClient_Reconnects(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}

		if conns.Add(1) == 1 {
			conn.WriteJSON(regimeMessage{Type: "regime", Regime: "VOLATILE"})
			return // drop the connection
		}
		conn.WriteJSON(regimeMessage{Type: "regime", Regime: "CHOPPY"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c, err := Dial(context.Background(), wsURL(server), nil, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if u := next(t, c); u.Regime != domain.RegimeVolatile {
		t.Errorf("first update = %s, want VOLATILE", u.Regime)
	}
	if u := next(t, c); u.Regime != domain.RegimeChoppy {
		t.Errorf("after reconnect = %s, want CHOPPY", u.Regime)
	}
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want >= 2", conns.Load())
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c, err := Dial(context.Background(), wsURL(server), nil, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-c.Updates(); ok {
		t.Error("updates channel not closed")
	}
}
