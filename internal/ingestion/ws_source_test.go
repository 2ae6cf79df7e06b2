package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"candle-lab/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// candleFeedServer serves the given frames to each connection after
// reading the subscribe request.
func candleFeedServer(t *testing.T, frames []wsCandleMessage, onSubscribe func(req wsSubscribeRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req wsSubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if onSubscribe != nil {
			onSubscribe(req)
		}

		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSSource_FetchCollectsRange(t *testing.T) {
	frames := []wsCandleMessage{
		{Timestamp: 1700000000, Open: 1.0, High: 1.2, Low: 0.9, Close: 1.1, Volume: 500},
		{Timestamp: 1700000060, Open: 1.1, High: 1.3, Low: 1.0, Close: 1.2, Volume: 600},
		{Timestamp: 1700000120, Open: 1.2, High: 1.4, Low: 1.1, Close: 1.3, Volume: 700, Final: true},
	}

	var subscribed wsSubscribeRequest
	server := candleFeedServer(t, frames, func(req wsSubscribeRequest) { subscribed = req })
	defer server.Close()

	source := NewWSSource(wsURL(server))
	candles, err := source.Fetch(context.Background(), "mintA", "solana", domain.Interval1Min, 1700000000, 1700000120)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	if candles[0].Close != 1.1 || candles[2].Volume != 700 {
		t.Errorf("unexpected candles: %+v", candles)
	}
	if subscribed.Op != "subscribe" || subscribed.Asset != "mintA" || subscribed.IntervalSeconds != 60 {
		t.Errorf("unexpected subscribe request: %+v", subscribed)
	}
}

func TestWSSource_StopsPastRange(t *testing.T) {
	frames := []wsCandleMessage{
		{Timestamp: 1700000000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Timestamp: 1700009999, Open: 2, High: 2, Low: 2, Close: 2, Volume: 2},
	}
	server := candleFeedServer(t, frames, nil)
	defer server.Close()

	source := NewWSSource(wsURL(server))
	candles, err := source.Fetch(context.Background(), "mintA", "solana", domain.Interval1Min, 1700000000, 1700000060)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
}

func TestWSSource_NormalCloseEndsFetch(t *testing.T) {
	frames := []wsCandleMessage{
		{Timestamp: 1700000000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
	}
	server := candleFeedServer(t, frames, nil)
	defer server.Close()

	source := NewWSSource(wsURL(server))
	candles, err := source.Fetch(context.Background(), "mintA", "solana", domain.Interval1Min, 1700000000, 1800000000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
}

func TestWSSource_DialFailure(t *testing.T) {
	source := NewWSSource("ws://127.0.0.1:1/feed")
	if _, err := source.Fetch(context.Background(), "mintA", "solana", domain.Interval1Min, 0, 1); err == nil {
		t.Error("expected dial error")
	}
}
