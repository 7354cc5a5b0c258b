// Package feed streams mark prices from the exchange websocket and pushes
// every tick to the trailing stop engine.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
)

// PriceHandler receives every parsed mark price tick.
type PriceHandler func(symbol string, price float64, ts time.Time)

// Feed consumes the combined mark price stream for the configured symbols.
type Feed struct {
	cfg     config.FeedConfig
	handler PriceHandler
	logger  zerolog.Logger
}

// NewFeed creates a mark price feed.
func NewFeed(cfg config.FeedConfig, handler PriceHandler, logger zerolog.Logger) *Feed {
	return &Feed{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "PriceFeed").Logger(),
	}
}

// combined stream envelope
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   markPriceUpdate `json:"data"`
}

type markPriceUpdate struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// Run connects and reads until the context is cancelled, reconnecting with
// the configured delay after any connection failure.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.cfg.Symbols) == 0 {
		f.logger.Warn().Msg("No symbols configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	reconnect := time.Duration(f.cfg.ReconnectSec) * time.Second
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error().Err(err).Dur("retry_in", reconnect).Msg("Feed disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnect):
		}
	}
}

// consume holds one websocket connection open and dispatches ticks.
func (f *Feed) consume(ctx context.Context) error {
	streamURL := f.streamURL()
	f.logger.Info().Str("url", streamURL).Msg("Connecting to mark price stream")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	f.logger.Info().Strs("symbols", f.cfg.Symbols).Msg("Mark price stream connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("price stream read failed: %w", err)
		}
		f.dispatch(message)
	}
}

// dispatch parses one stream message and invokes the handler.
func (f *Feed) dispatch(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.logger.Warn().Err(err).Msg("Unparseable stream message")
		return
	}
	if msg.Data.EventType != "markPriceUpdate" || msg.Data.Symbol == "" {
		return
	}

	price, err := strconv.ParseFloat(msg.Data.MarkPrice, 64)
	if err != nil || price <= 0 {
		f.logger.Warn().
			Str("symbol", msg.Data.Symbol).
			Str("raw", msg.Data.MarkPrice).
			Msg("Unparseable mark price")
		return
	}

	ts := time.UnixMilli(msg.Data.EventTime)
	f.handler(msg.Data.Symbol, price, ts)
}

// streamURL builds the combined stream endpoint for the configured symbols.
func (f *Feed) streamURL() string {
	base := strings.TrimSuffix(f.cfg.StreamURL, "/ws")

	streams := make([]string, 0, len(f.cfg.Symbols))
	for _, symbol := range f.cfg.Symbols {
		streams = append(streams, strings.ToLower(symbol)+"@markPrice")
	}
	return fmt.Sprintf("%s/stream?streams=%s", base, url.QueryEscape(strings.Join(streams, "/")))
}
