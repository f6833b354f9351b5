package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aristath/purser/internal/domain"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Trade is one tick from the live trade stream.
type Trade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"` // unix milliseconds
}

// Time returns the trade timestamp as UTC time.
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

// TradeHandler receives each streamed trade. It runs on the read loop, so
// it must return quickly.
type TradeHandler func(Trade)

const maxStreamBackoff = time.Minute

// StreamTrades subscribes to the live trade stream for the given symbols
// and invokes handler for every tick. Dropped connections reconnect with
// exponential backoff; the call returns only when ctx is canceled or the
// stream fails in a way a reconnect cannot fix.
func (c *Client) StreamTrades(ctx context.Context, symbols []string, handler TradeHandler) error {
	if err := c.requireKey(); err != nil {
		return err
	}
	if len(symbols) == 0 {
		return domain.NewError(domain.KindValidation, "at least one symbol is required")
	}

	backoff := c.baseDelay

	for {
		err := c.streamOnce(ctx, symbols, handler)
		if err == nil || ctx.Err() != nil {
			return domain.WrapError(domain.KindCanceled, ctx.Err(), "trade stream stopped")
		}

		c.log.Warn().
			Err(err).
			Dur("backoff", backoff).
			Msg("Trade stream dropped, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return domain.WrapError(domain.KindCanceled, ctx.Err(), "trade stream stopped")
		}

		backoff *= 2
		if backoff > maxStreamBackoff {
			backoff = maxStreamBackoff
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, symbols []string, handler TradeHandler) error {
	endpoint := fmt.Sprintf("%s?token=%s", c.wsURL, url.QueryEscape(c.apiKey))

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for _, symbol := range symbols {
		sub := map[string]string{"type": "subscribe", "symbol": symbol}
		if err := wsjson.Write(ctx, conn, sub); err != nil {
			return fmt.Errorf("subscribe %s failed: %w", symbol, err)
		}
	}

	c.log.Info().Strs("symbols", symbols).Msg("Trade stream connected")

	for {
		var msg struct {
			Type string  `json:"type"`
			Data []Trade `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		switch msg.Type {
		case "trade":
			for _, trade := range msg.Data {
				handler(trade)
			}
		case "ping":
			// keepalive, nothing to do
		case "error":
			c.log.Warn().Msg("Trade stream reported an error message")
		}
	}
}
