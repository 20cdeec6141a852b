// Package notify provides notification functionality for the scenario trader.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scenario-trader/internal/config"
	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
	"scenario-trader/internal/resilience"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Channel is a single delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Severity orders notifications by importance.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// Kind identifies the engine event behind a notification.
type Kind string

const (
	KindEntry        Kind = "entry"
	KindApproach     Kind = "approach"
	KindTrigger      Kind = "trigger"
	KindChaos        Kind = "chaos"
	KindStop         Kind = "stop"
	KindTarget       Kind = "target"
	KindInvalidation Kind = "invalidation"
	KindManual       Kind = "manual"
	KindLevel        Kind = "level"
)

// Notification is the payload delivered to every channel.
type Notification struct {
	PlanID     string                 `json:"plan_id"`
	Instrument string                 `json:"instrument"`
	Scenario   models.ScenarioType    `json:"scenario,omitempty"`
	Kind       Kind                   `json:"kind"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Title returns a one-line heading for the notification.
func (n Notification) Title() string {
	if n.Scenario != "" {
		return fmt.Sprintf("[%s] %s %s (%s)", n.Severity, n.Instrument, n.Kind, n.Scenario)
	}
	return fmt.Sprintf("[%s] %s %s", n.Severity, n.Instrument, n.Kind)
}

// New builds the notifier described by cfg. Remote channels sit behind a
// circuit breaker and the whole set is wrapped in an AsyncNotifier so Send
// never blocks the caller.
func New(cfg config.NotificationConfig, logger zerolog.Logger) *AsyncNotifier {
	multi := NewMultiNotifier(Severity(cfg.MinSeverity))
	if cfg.Enabled {
		multi.AddChannel(NewLogNotifier(logger))
		if cfg.Terminal.Enabled {
			multi.AddChannel(NewTerminalNotifier(cfg.Terminal))
		}
		if cfg.Webhook.Enabled {
			multi.AddChannel(Guard(NewWebhookNotifier(cfg.Webhook), resilience.DefaultCircuitBreakerConfig()))
		}
		if cfg.Telegram.Enabled {
			multi.AddChannel(Guard(NewTelegramNotifier(cfg.Telegram), resilience.DefaultCircuitBreakerConfig()))
		}
	}
	return NewAsyncNotifier(multi, cfg.QueueSize, logger)
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels    []Channel
	minSeverity Severity
	mu          sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier that drops notifications below
// minSeverity.
func NewMultiNotifier(minSeverity Severity) *MultiNotifier {
	if minSeverity == "" {
		minSeverity = SeverityInfo
	}
	return &MultiNotifier{minSeverity: minSeverity}
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	var names []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !n.Severity.AtLeast(mn.minSeverity) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			errs = append(errs, errors.NewNotificationError(ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ScenarioTrader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// Name returns the name of the notifier.
func (l *LogNotifier) Name() string { return "log" }

// IsEnabled always returns true.
func (l *LogNotifier) IsEnabled() bool { return true }

// Send logs the notification at a level matching its severity.
func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	var ev *zerolog.Event
	switch n.Severity {
	case SeverityCritical:
		ev = l.logger.Error()
	case SeverityWarning:
		ev = l.logger.Warn()
	default:
		ev = l.logger.Info()
	}
	ev.Str("plan_id", n.PlanID).
		Str("instrument", n.Instrument).
		Str("scenario", string(n.Scenario)).
		Str("kind", string(n.Kind)).
		Fields(n.Data).
		Msg(n.Message)
	return nil
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// Recorder keeps every notification it receives. Used by tests and by the
// replay command to print a summary.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// Send records n.
func (r *Recorder) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
