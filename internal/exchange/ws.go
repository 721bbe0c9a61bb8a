package exchange

import (
	"context"
	"strconv"
	"time"

	"perp_bot/internal/models"
	"perp_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	wsPublicLinear  = "wss://stream.bybit.com/v5/public/linear"
	wsPingInterval  = 20 * time.Second
	wsMaxDialRetry  = 8
	wsRedialBackoff = 300 * time.Millisecond
)

// TickerStream streams last-price ticks for one symbol. Reconnects with
// linear backoff; the channel closes when ctx is done or the dial budget
// is exhausted.
func (c *Client) TickerStream(ctx context.Context, symbol string) <-chan models.Tick {
	ch := make(chan models.Tick)
	go func() {
		defer close(ch)
		dialer := &websocket.Dialer{}
		retry := 0
		for {
			conn, _, err := dialer.Dial(wsPublicLinear, nil)
			if err != nil {
				retry++
				if retry > wsMaxDialRetry {
					logger.Error("ticker stream: dial budget exhausted for %s: %v", symbol, err)
					return
				}
				time.Sleep(time.Duration(retry) * wsRedialBackoff)
				continue
			}
			retry = 0

			sub := map[string]any{"op": "subscribe", "args": []string{"tickers." + symbol}}
			_ = conn.WriteJSON(sub)

			stopPing := make(chan struct{})
			go func() {
				t := time.NewTicker(wsPingInterval)
				defer t.Stop()
				for {
					select {
					case <-stopPing:
						return
					case <-ctx.Done():
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"op": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					close(stopPing)
					_ = conn.Close()
					break
				}
				var frame struct {
					Topic string `json:"topic"`
					TS    int64  `json:"ts"`
					Data  struct {
						LastPrice string `json:"lastPrice"`
					} `json:"data"`
				}
				if err := sonic.Unmarshal(msg, &frame); err != nil || frame.Topic == "" {
					continue
				}
				px, _ := strconv.ParseFloat(frame.Data.LastPrice, 64)
				if px <= 0 {
					continue
				}
				at := time.UnixMilli(frame.TS)
				if frame.TS == 0 {
					at = time.Now()
				}
				select {
				case ch <- models.Tick{Symbol: symbol, Price: px, At: at}:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(time.Second)
			}
		}
	}()
	return ch
}
