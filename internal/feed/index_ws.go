// Package feed streams real-time index levels from the gateway's websocket
// endpoint into the quote cache, so engine cycles can read a fresh volatility
// level without an extra REST round trip.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolette/spreadbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// indexTick is the JSON shape of one streamed index update.
type indexTick struct {
	Topic     string  `json:"topic"`
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Timestamp string  `json:"timestamp"`
}

// subscribeCommand is the JSON command sent after connecting.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Topic   string   `json:"topic"`
	Symbols []string `json:"symbols"`
}

// IndexFeed connects to the gateway's market-data websocket, subscribes to
// index ticks for one underlying, and writes each level into the quote cache.
// It reconnects with exponential backoff on disconnect.
type IndexFeed struct {
	wsURL      string
	underlying string
	cache      domain.QuoteCache
	logger     *slog.Logger
	closeOnce  sync.Once
	done       chan struct{}
}

// NewIndexFeed creates a feed for the given underlying.
func NewIndexFeed(wsURL, underlying string, cache domain.QuoteCache, logger *slog.Logger) *IndexFeed {
	return &IndexFeed{
		wsURL:      wsURL,
		underlying: underlying,
		cache:      cache,
		logger:     logger.With(slog.String("component", "index_feed")),
		done:       make(chan struct{}),
	}
}

// Run connects, subscribes, and consumes ticks until ctx is cancelled or
// Close is called. Reconnects with backoff between connection attempts.
func (f *IndexFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("index feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads ticks until the connection
// drops or the feed is shut down.
func (f *IndexFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{
		Type:    "subscribe",
		Topic:   "index",
		Symbols: []string{f.underlying},
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("index feed subscribed", slog.String("underlying", f.underlying))

	// Close the connection when the context ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}()
	go f.pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (f *IndexFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one tick and writes it into the cache. Unparseable or
// off-topic messages are silently dropped.
func (f *IndexFeed) handleMessage(ctx context.Context, raw []byte) {
	var tick indexTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return
	}
	if tick.Topic != "index" || tick.Symbol != f.underlying || tick.Last <= 0 {
		return
	}

	ts := time.Now()
	if tick.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, tick.Timestamp); err == nil {
			ts = t
		}
	}

	if err := f.cache.SetIndexLevel(ctx, tick.Symbol, tick.Last, ts); err != nil {
		f.logger.Debug("index level cache write failed",
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the feed.
func (f *IndexFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
