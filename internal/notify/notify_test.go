package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scenario-trader/internal/config"
	"scenario-trader/internal/errors"
	"scenario-trader/internal/resilience"
)

type stubChannel struct {
	name    string
	enabled bool
	err     error
	got     []Notification
}

func (s *stubChannel) Name() string    { return s.name }
func (s *stubChannel) IsEnabled() bool { return s.enabled }
func (s *stubChannel) Send(ctx context.Context, n Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func TestMultiNotifierSeverityFilter(t *testing.T) {
	ch := &stubChannel{name: "stub", enabled: true}
	mn := NewMultiNotifier(SeverityWarning)
	mn.AddChannel(ch)

	ctx := context.Background()
	_ = mn.Send(ctx, Notification{Kind: KindApproach, Severity: SeverityInfo})
	_ = mn.Send(ctx, Notification{Kind: KindStop, Severity: SeverityWarning})
	_ = mn.Send(ctx, Notification{Kind: KindInvalidation, Severity: SeverityCritical})

	if len(ch.got) != 2 {
		t.Fatalf("delivered %d, want 2", len(ch.got))
	}
	if ch.got[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	failing := &stubChannel{name: "bad", enabled: true, err: fmt.Errorf("boom")}
	ok := &stubChannel{name: "good", enabled: true}
	disabled := &stubChannel{name: "off", enabled: false}

	mn := NewMultiNotifier(SeverityInfo)
	mn.AddChannel(failing)
	mn.AddChannel(ok)
	mn.AddChannel(disabled)

	err := mn.Send(context.Background(), Notification{Kind: KindEntry, Severity: SeverityInfo})
	if !errors.Is(err, errors.ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	if len(ok.got) != 1 {
		t.Error("healthy channel should still receive the notification")
	}
	if len(disabled.got) != 0 {
		t.Error("disabled channel must be skipped")
	}
	if got := mn.Channels(); len(got) != 2 {
		t.Errorf("channels = %v", got)
	}
}

type blockingNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingNotifier) Send(ctx context.Context, n Notification) error {
	<-b.release
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func TestAsyncNotifierNeverBlocks(t *testing.T) {
	next := &blockingNotifier{release: make(chan struct{})}
	a := NewAsyncNotifier(next, 2, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = a.Send(context.Background(), Notification{Kind: KindApproach})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a stuck channel")
	}

	close(next.release)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	stats := a.Stats()
	if stats.Dropped == 0 {
		t.Error("expected drops when the queue is full")
	}
	if stats.Delivered+stats.Dropped != 10 {
		t.Errorf("delivered %d + dropped %d != 10", stats.Delivered, stats.Dropped)
	}
}

func TestAsyncNotifierCountsFailures(t *testing.T) {
	mn := NewMultiNotifier(SeverityInfo)
	mn.AddChannel(&stubChannel{name: "bad", enabled: true, err: fmt.Errorf("down")})
	a := NewAsyncNotifier(mn, 8, zerolog.Nop())

	_ = a.Send(context.Background(), Notification{Kind: KindStop, Severity: SeverityWarning})
	if err := a.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Stats().Failed != 1 {
		t.Errorf("failed = %d, want 1", a.Stats().Failed)
	}
	_ = a.Close()
}

func TestWebhookNotifier(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	n := Notification{PlanID: "p1", Instrument: "BTCUSDT", Scenario: "A", Kind: KindEntry, Severity: SeverityInfo, Message: "entered"}
	if err := w.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if received.PlanID != "p1" || received.Kind != KindEntry || received.Scenario != "A" {
		t.Errorf("received = %+v", received)
	}
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	if err := w.Send(context.Background(), Notification{}); err == nil {
		t.Error("expected error on 500")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"trader","username":"trader_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			texts = append(texts, r.FormValue("text"))
			mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tn := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: 42}).
		WithEndpoint(srv.URL + "/bot%s/%s")
	if !tn.IsEnabled() {
		t.Fatal("expected enabled")
	}

	n := Notification{Instrument: "BTCUSDT", Kind: KindStop, Severity: SeverityWarning, Message: "stop <hit>"}
	if err := tn.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || !strings.Contains(texts[0], "stop &lt;hit&gt;") {
		t.Errorf("texts = %q", texts)
	}
}

func TestTelegramDisabledWithoutChat(t *testing.T) {
	tn := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "token"})
	if tn.IsEnabled() {
		t.Error("telegram without chat id must be disabled")
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("line of text\n", 1000)
	parts := splitMessage(text, 100)
	if strings.Join(parts, "") != text {
		t.Error("split must preserve content")
	}
	for _, p := range parts {
		if len(p) > 100 {
			t.Errorf("part length %d exceeds max", len(p))
		}
	}
}

func TestTerminalNotifier(t *testing.T) {
	var buf bytes.Buffer
	tn := NewTerminalNotifier(config.TerminalConfig{Enabled: true, Bell: true})
	tn.SetOutput(&buf)

	n := Notification{Instrument: "ETHUSDT", Scenario: "D", Kind: KindInvalidation, Severity: SeverityCritical, Message: "plan invalidated", Timestamp: time.Now()}
	if err := tn.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\a") {
		t.Error("critical notification should ring the bell")
	}
	if !strings.Contains(out, "INVALIDATED") || !strings.Contains(out, "ETHUSDT [D]") {
		t.Errorf("output = %q", out)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.Send(context.Background(), Notification{Kind: KindEntry})
	_ = r.Send(context.Background(), Notification{Kind: KindEntry})
	_ = r.Send(context.Background(), Notification{Kind: KindTarget})
	if r.Count(KindEntry) != 2 || len(r.Sent()) != 3 {
		t.Errorf("recorder = %+v", r.Sent())
	}
}

func TestGuardedWebhookStopsAfterFailures(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := Guard(NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL}), resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = ch.Send(ctx, Notification{Kind: KindStop, Severity: SeverityWarning})
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Errorf("webhook hit %d times, want 2", hits)
	}
	if s := ch.Breaker().Stats(); s.State != resilience.CircuitOpen || s.TotalRejected != 2 {
		t.Errorf("breaker = %+v", s)
	}
}
