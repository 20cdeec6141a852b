package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"scenario-trader/internal/config"
	"scenario-trader/internal/models"
)

type collector struct {
	mu     sync.Mutex
	quotes []models.Quote
}

func (c *collector) Publish(q models.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = append(c.quotes, q)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.quotes)
}

func (c *collector) all() []models.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Quote(nil), c.quotes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplayFeed(t *testing.T) {
	csv := strings.Join([]string{
		"symbol,price,high24h,low24h,ts",
		"BTCUSDT,100,105,95,2024-03-01T09:00:00Z",
		"ETHUSDT,3000,,,",
		"BTCUSDT,101.5,,,1709283720",
	}, "\n")

	feed, err := NewReplayFeed(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	quotes := feed.Quotes()
	if len(quotes) != 3 {
		t.Fatalf("quotes = %d, want 3", len(quotes))
	}
	if quotes[0].High24h == nil || *quotes[0].High24h != 105 || quotes[1].High24h != nil {
		t.Errorf("24h levels = %+v / %+v", quotes[0], quotes[1])
	}
	want := time.Date(2024, 3, 1, 9, 0, 1, 0, time.UTC)
	if !quotes[1].Timestamp.Equal(want) {
		t.Errorf("missing ts should follow previous row: %v", quotes[1].Timestamp)
	}
	if !quotes[2].Timestamp.Equal(time.Date(2024, 3, 1, 9, 2, 0, 0, time.UTC)) {
		t.Errorf("unix ts = %v", quotes[2].Timestamp)
	}
	if got := feed.Symbols(); len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("symbols = %v", got)
	}

	c := &collector{}
	n, err := feed.Run(context.Background(), c)
	if err != nil || n != 3 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	got := c.all()
	if got[0].Price != 100 || got[1].Symbol != "ETHUSDT" || got[2].Price != 101.5 {
		t.Errorf("published out of order: %+v", got)
	}
}

func TestReplayFeedRejectsBadRows(t *testing.T) {
	cases := []string{
		"symbol,price\n,100",
		"symbol,price\nBTCUSDT,0",
		"symbol,price,ts\nBTCUSDT,100,yesterday",
	}
	for _, csv := range cases {
		if _, err := NewReplayFeed(strings.NewReader(csv)); err == nil {
			t.Errorf("expected error for %q", csv)
		}
	}
}

func TestReplayFeedStopsOnCancel(t *testing.T) {
	feed, err := NewReplayFeed(strings.NewReader("symbol,price\nBTCUSDT,1\nBTCUSDT,2\nBTCUSDT,3"))
	if err != nil {
		t.Fatal(err)
	}
	feed.Pace = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan int)
	go func() {
		n, _ := feed.Run(ctx, c)
		done <- n
	}()
	waitFor(t, func() bool { return c.len() == 1 })
	cancel()
	if n := <-done; n != 1 {
		t.Errorf("published %d before cancel, want 1", n)
	}
}

func TestWSFeedSubscribesAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var conns atomic.Int32
	subs := make(chan []string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil || sub.Op != "subscribe" {
			return
		}
		subs <- sub.Symbols

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"subscribed"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"BTCUSDT","price":100,"high24h":110,"ts":1709283600000}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"symbol":"ETHUSDT","price":3000},{"symbol":"BTCUSDT","price":101}]`))
			return // drop the connection
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"BTCUSDT","price":102,"ts":"2024-03-01T09:05:00Z"}`))
		// Keep the second connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := &collector{}
	cfg := config.FeedConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:        []string{"ETHUSDT"},
		ReconnectDelay: 10 * time.Millisecond,
	}
	feed := NewWSFeed(cfg, c, zerolog.Nop()).WithSymbols(func() []string { return []string{"BTCUSDT", "ETHUSDT"} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	waitFor(t, func() bool { return c.len() == 4 })

	first := <-subs
	if len(first) != 2 || first[0] != "ETHUSDT" || first[1] != "BTCUSDT" {
		t.Errorf("subscribed = %v", first)
	}

	quotes := c.all()
	if quotes[0].Symbol != "BTCUSDT" || quotes[0].High24h == nil || *quotes[0].High24h != 110 {
		t.Errorf("first quote = %+v", quotes[0])
	}
	if !quotes[0].Timestamp.Equal(time.UnixMilli(1709283600000)) {
		t.Errorf("ts = %v", quotes[0].Timestamp)
	}
	if quotes[3].Price != 102 || !quotes[3].Timestamp.Equal(time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)) {
		t.Errorf("quote after reconnect = %+v", quotes[3])
	}

	stats := feed.Stats()
	if stats.Reconnects != 1 || stats.Received != 4 || stats.Malformed != 2 {
		t.Errorf("stats = %+v", stats)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWSFeedGivesUp(t *testing.T) {
	feed := NewWSFeed(config.FeedConfig{
		URL:            "ws://127.0.0.1:1/none",
		MaxReconnects:  2,
		ReconnectDelay: time.Millisecond,
	}, &collector{}, zerolog.Nop())

	if err := feed.Run(context.Background()); err == nil {
		t.Error("expected error after exhausting reconnects")
	}
}

func TestTimestampDecoding(t *testing.T) {
	var wq wireQuote
	if err := json.Unmarshal([]byte(`{"symbol":"X","price":1,"ts":1709283600.5}`), &wq); err != nil {
		t.Fatal(err)
	}
	if got := wq.TS.Time(); !got.Equal(time.Unix(1709283600, 5e8)) {
		t.Errorf("seconds ts = %v", got)
	}
	if err := json.Unmarshal([]byte(`{"ts":"bad"}`), &wq); err == nil {
		t.Error("expected error for bad ts")
	}
}

type orderedConsumer struct {
	mu     sync.Mutex
	prices []float64
}

func (o *orderedConsumer) OnTick(q models.Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices = append(o.prices, q.Price)
}

func (o *orderedConsumer) Symbols() []string { return []string{"BTCUSDT"} }

func (o *orderedConsumer) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.prices)
}

func TestHubConsumersReceiveInOrder(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	oc := &orderedConsumer{}
	hub.RegisterConsumer(oc)
	all := NewConsumerFunc(nil, func(models.Quote) {})
	hub.RegisterConsumer(all)

	for i := 1; i <= 50; i++ {
		hub.Publish(models.Quote{Symbol: "BTCUSDT", Price: float64(i)})
		hub.Publish(models.Quote{Symbol: "ETHUSDT", Price: float64(i)})
	}
	waitFor(t, func() bool { return oc.count() == 50 && hub.Metrics().Received == 100 })

	oc.mu.Lock()
	for i, p := range oc.prices {
		if p != float64(i+1) {
			t.Fatalf("quote %d out of order: %v", i, p)
		}
	}
	oc.mu.Unlock()

	if got := hub.Symbols(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Errorf("symbols = %v", got)
	}
	m := hub.Metrics()
	if m.Received != 100 || m.Consumers != 2 {
		t.Errorf("metrics = %+v", m)
	}

	hub.UnregisterConsumer(all)
	if hub.Metrics().Consumers != 1 {
		t.Error("unregister failed")
	}
}
