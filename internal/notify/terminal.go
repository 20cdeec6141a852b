package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"scenario-trader/internal/config"
)

// TerminalNotifier prints notifications to the terminal.
type TerminalNotifier struct {
	mu          sync.Mutex
	out         io.Writer
	enabled     bool
	bellEnabled bool
}

// NewTerminalNotifier creates a TerminalNotifier writing to stderr.
func NewTerminalNotifier(cfg config.TerminalConfig) *TerminalNotifier {
	return &TerminalNotifier{
		out:         os.Stderr,
		enabled:     cfg.Enabled,
		bellEnabled: cfg.Bell,
	}
}

// SetOutput redirects terminal output.
func (tn *TerminalNotifier) SetOutput(w io.Writer) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.out = w
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string { return "terminal" }

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool { return tn.enabled }

// Send prints the notification.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	// Ring bell for anything above info
	if tn.bellEnabled && n.Severity.AtLeast(SeverityWarning) {
		fmt.Fprint(tn.out, "\a")
	}
	_, err := fmt.Fprintln(tn.out, FormatNotification(n))
	return err
}

var kindIndicators = map[Kind]string{
	KindEntry:        "ENTRY",
	KindApproach:     "APPROACH",
	KindTrigger:      "TRIGGER",
	KindChaos:        "CHAOS",
	KindStop:         "STOP-LOSS",
	KindTarget:       "TARGET",
	KindInvalidation: "INVALIDATED",
	KindManual:       "MANUAL",
	KindLevel:        "LEVEL",
}

// FormatNotification formats a notification for terminal display.
func FormatNotification(n Notification) string {
	var sb strings.Builder

	indicator := kindIndicators[n.Kind]
	if indicator == "" {
		indicator = strings.ToUpper(string(n.Kind))
	}

	var paint func(format string, a ...interface{}) string
	switch {
	case n.Kind == KindTarget:
		paint = color.New(color.FgGreen, color.Bold).SprintfFunc()
	case n.Severity == SeverityCritical:
		paint = color.New(color.FgRed, color.Bold).SprintfFunc()
	case n.Severity == SeverityWarning:
		paint = color.New(color.FgYellow).SprintfFunc()
	default:
		paint = color.New(color.FgCyan).SprintfFunc()
	}

	sb.WriteString(color.New(color.Faint).Sprint(n.Timestamp.Format("15:04:05")))
	sb.WriteString(" ")
	sb.WriteString(paint("%-11s", indicator))
	sb.WriteString(" ")
	sb.WriteString(n.Instrument)
	if n.Scenario != "" {
		sb.WriteString(" [" + string(n.Scenario) + "]")
	}
	sb.WriteString(" ")
	sb.WriteString(n.Message)
	return sb.String()
}
