package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"candle-lab/internal/domain"
)

// WSSourceConfig configures websocket source behavior.
type WSSourceConfig struct {
	// HandshakeTimeout is timeout for the initial dial.
	HandshakeTimeout time.Duration
	// ReadTimeout is timeout for reading a single message.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing the subscribe request.
	WriteTimeout time.Duration
}

// DefaultWSSourceConfig returns default websocket source configuration.
func DefaultWSSourceConfig() WSSourceConfig {
	return WSSourceConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// wsSubscribeRequest is the subscribe message sent after dialing.
type wsSubscribeRequest struct {
	Op              string `json:"op"`
	Asset           string `json:"asset"`
	Chain           string `json:"chain"`
	IntervalSeconds int64  `json:"interval_seconds"`
}

// wsCandleMessage is one candle frame from the feed.
type wsCandleMessage struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Final     bool    `json:"final"` // feed signals end of the requested range
}

// WSSource fetches candles from a websocket feed speaking a generic JSON
// candle protocol: one subscribe request, then one message per candle.
type WSSource struct {
	endpoint string
	config   WSSourceConfig
}

// NewWSSource creates a websocket-backed candle source.
func NewWSSource(endpoint string) *WSSource {
	return &WSSource{
		endpoint: endpoint,
		config:   DefaultWSSourceConfig(),
	}
}

// Fetch dials the feed, subscribes, and collects candles until the feed
// marks the range complete, the connection closes, or a candle past the
// range arrives. Out-of-range candles are dropped.
func (s *WSSource) Fetch(ctx context.Context, asset, chain string, interval domain.Interval, from, to int64) ([]domain.Candle, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	defer func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		conn.Close()
	}()

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	req := wsSubscribeRequest{
		Op:              "subscribe",
		Asset:           asset,
		Chain:           chain,
		IntervalSeconds: interval.Seconds(),
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("websocket subscribe: %w", err)
	}

	// Close the connection when ctx is cancelled so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var candles []domain.Candle
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		var msg wsCandleMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return candles, nil
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		if msg.Timestamp > to {
			return candles, nil
		}
		if msg.Timestamp >= from {
			candles = append(candles, domain.Candle{
				Timestamp: msg.Timestamp,
				Open:      msg.Open,
				High:      msg.High,
				Low:       msg.Low,
				Close:     msg.Close,
				Volume:    msg.Volume,
			})
		}
		if msg.Final {
			return candles, nil
		}
	}
}

// Describe implements CandleSource.
func (s *WSSource) Describe() string {
	return "ws:" + s.endpoint
}
