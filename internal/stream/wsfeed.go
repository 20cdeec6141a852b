package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"scenario-trader/internal/config"
	"scenario-trader/internal/models"
	"scenario-trader/pkg/utils"
)

// WSFeed reads JSON quotes from a WebSocket endpoint and publishes them.
// Messages look like {"symbol":"BTCUSDT","price":64000.5,"high24h":65000,
// "low24h":62000,"ts":1712345678901}; ts may be unix seconds, unix millis
// or an RFC 3339 string.
type WSFeed struct {
	url            string
	maxReconnects  int
	reconnectDelay time.Duration
	pub            Publisher
	symbols        func() []string
	logger         zerolog.Logger
	dialer         *websocket.Dialer

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	received   atomic.Uint64
	malformed  atomic.Uint64
	reconnects atomic.Uint64
}

// FeedStats reports feed counters.
type FeedStats struct {
	Received   uint64 `json:"received"`
	Malformed  uint64 `json:"malformed"`
	Reconnects uint64 `json:"reconnects"`
}

// NewWSFeed creates a feed publishing into pub. The symbols of cfg are
// subscribed on every connect.
func NewWSFeed(cfg config.FeedConfig, pub Publisher, logger zerolog.Logger) *WSFeed {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	static := append([]string(nil), cfg.Symbols...)
	return &WSFeed{
		url:            cfg.URL,
		maxReconnects:  cfg.MaxReconnects,
		reconnectDelay: delay,
		pub:            pub,
		symbols:        func() []string { return static },
		logger:         logger.With().Str("component", "feed").Str("url", cfg.URL).Logger(),
		dialer:         websocket.DefaultDialer,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   20 * time.Second,
	}
}

// WithSymbols sets the function consulted for the subscription list on
// every connect. The configured symbols are merged in.
func (f *WSFeed) WithSymbols(fn func() []string) *WSFeed {
	static := f.symbols
	f.symbols = func() []string {
		return mergeSymbols(static(), fn())
	}
	return f
}

// Run connects and publishes quotes until ctx is done. Dropped connections
// are re-dialed with exponential backoff; Run returns an error only when
// the reconnect attempts are exhausted.
func (f *WSFeed) Run(ctx context.Context) error {
	if f.url == "" {
		return fmt.Errorf("feed url not configured")
	}

	retry := utils.RetryConfig{
		MaxAttempts:   f.maxReconnects,
		InitialDelay:  f.reconnectDelay,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			f.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Feed dial failed, retrying")
		},
	}

	first := true
	for {
		conn, err := utils.RetryWithResult(ctx, retry, func() (*websocket.Conn, error) {
			return f.dial(ctx)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("feed connect: %w", err)
		}
		if !first {
			f.reconnects.Add(1)
		}
		first = false

		err = f.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn().Err(err).Msg("Feed disconnected")

		timer := time.NewTimer(f.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (f *WSFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (f *WSFeed) session(ctx context.Context, conn *websocket.Conn) error {
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	f.logger.Info().Msg("Feed connected")

	if symbols := f.symbols(); len(symbols) > 0 {
		if err := f.write(conn, subscribeMessage{Op: "subscribe", Symbols: symbols}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	// Unblock ReadMessage when ctx is done.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go f.pingLoop(conn, done)

	conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		f.handle(msg)
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.WriteTimeout))
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) write(conn *websocket.Conn, v interface{}) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(f.WriteTimeout))
	return conn.WriteJSON(v)
}

// Subscribe asks the connected server for additional symbols.
func (f *WSFeed) Subscribe(symbols []string) error {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("feed not connected")
	}
	return f.write(conn, subscribeMessage{Op: "subscribe", Symbols: symbols})
}

func (f *WSFeed) handle(msg []byte) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return
	}

	var batch []wireQuote
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &batch); err != nil {
			f.malformed.Add(1)
			f.logger.Debug().Err(err).Msg("Malformed feed message")
			return
		}
	} else {
		var wq wireQuote
		if err := json.Unmarshal(msg, &wq); err != nil {
			f.malformed.Add(1)
			f.logger.Debug().Err(err).Msg("Malformed feed message")
			return
		}
		batch = append(batch, wq)
	}

	for _, wq := range batch {
		// Acks and other control messages carry no symbol.
		if wq.Symbol == "" || wq.Price <= 0 {
			continue
		}
		f.received.Add(1)
		f.pub.Publish(models.Quote{
			Symbol:    wq.Symbol,
			Price:     wq.Price,
			High24h:   wq.High24h,
			Low24h:    wq.Low24h,
			Timestamp: wq.TS.Time(),
		})
	}
}

// Stats returns feed counters.
func (f *WSFeed) Stats() FeedStats {
	return FeedStats{
		Received:   f.received.Load(),
		Malformed:  f.malformed.Load(),
		Reconnects: f.reconnects.Load(),
	}
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

type wireQuote struct {
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price"`
	High24h *float64  `json:"high24h,omitempty"`
	Low24h  *float64  `json:"low24h,omitempty"`
	TS      timestamp `json:"ts"`
}

// timestamp accepts unix seconds, unix millis or an RFC 3339 string.
type timestamp time.Time

func (t *timestamp) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*t = timestamp(unixTime(n))
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid ts %q: %w", s, err)
	}
	*t = timestamp(parsed.UTC())
	return nil
}

// Time returns the timestamp, or now when it was absent.
func (t timestamp) Time() time.Time {
	if time.Time(t).IsZero() {
		return time.Now().UTC()
	}
	return time.Time(t)
}

// unixTime interprets n as millis when it is too large to be seconds.
func unixTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}

func mergeSymbols(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
