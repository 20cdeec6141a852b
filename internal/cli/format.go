package cli

import (
	"fmt"
	"strings"
	"time"

	"scenario-trader/internal/models"
	"scenario-trader/pkg/utils"
)

// FormatLevel formats an optional price level, "-" when unset.
func FormatLevel(p *float64) string {
	if !models.HasLevel(p) {
		return "-"
	}
	return utils.FormatPrice(*p)
}

// FormatDateTime formats a timestamp in local time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatRiskReward formats a risk-reward ratio.
func FormatRiskReward(rr float64) string {
	if rr <= 0 {
		return "-"
	}
	return fmt.Sprintf("1:%.2f", rr)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// ShortID returns the first eight characters of an id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// FormatStatus colors a plan status.
func (o *Output) FormatStatus(s models.PlanStatus) string {
	text := strings.ToUpper(string(s))
	switch s {
	case models.PlanActive:
		return o.Green(text)
	case models.PlanMonitoring:
		return o.Yellow(text)
	case models.PlanClosed, models.PlanArchived:
		return o.DimText(text)
	}
	return text
}
