package journal

import (
	"context"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
	"scenario-trader/internal/store"
)

// Filter selects ledger entries for reports.
type Filter struct {
	PlanID     string
	Instrument string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Load reads the ledger entries matching f.
func Load(ctx context.Context, ledger store.Ledger, f Filter) ([]*models.LedgerEntry, error) {
	entries, err := ledger.ListEntries(ctx, store.LedgerFilter{
		PlanID:     f.PlanID,
		Instrument: f.Instrument,
		StartDate:  f.Since,
		EndDate:    f.Until,
		Limit:      f.Limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading ledger")
	}
	return entries, nil
}

// csvRow is the flat export layout of a ledger entry.
type csvRow struct {
	ID             string  `csv:"id"`
	PlanID         string  `csv:"plan_id"`
	Instrument     string  `csv:"instrument"`
	Timeframe      string  `csv:"timeframe"`
	Direction      string  `csv:"direction"`
	EntryScenario  string  `csv:"entry_scenario"`
	ActualScenario string  `csv:"actual_scenario"`
	EntryPrice     float64 `csv:"entry_price"`
	ExitPrice      float64 `csv:"exit_price"`
	Size           float64 `csv:"size"`
	Leverage       float64 `csv:"leverage"`
	StopLoss       float64 `csv:"stop_loss"`
	Target1        float64 `csv:"target1"`
	OpenedAt       string  `csv:"opened_at"`
	ClosedAt       string  `csv:"closed_at"`
	ExitReason     string  `csv:"exit_reason"`
	PnL            float64 `csv:"pnl"`
	PnLPercent     float64 `csv:"pnl_percent"`
	RMultiple      float64 `csv:"r_multiple"`
	Notes          int     `csv:"notes"`
}

// WriteCSV writes entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []*models.LedgerEntry) error {
	rows := make([]*csvRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &csvRow{
			ID:             e.ID,
			PlanID:         e.PlanID,
			Instrument:     e.Instrument,
			Timeframe:      e.Timeframe,
			Direction:      string(e.Direction),
			EntryScenario:  string(e.EntryScenario),
			ActualScenario: string(e.ActualScenario),
			EntryPrice:     e.EntryPrice,
			ExitPrice:      e.ExitPrice,
			Size:           e.Size,
			Leverage:       e.Leverage,
			StopLoss:       e.StopLoss,
			Target1:        e.Target1,
			OpenedAt:       e.OpenedAt.UTC().Format(time.RFC3339),
			ClosedAt:       e.ClosedAt.UTC().Format(time.RFC3339),
			ExitReason:     string(e.ExitReason),
			PnL:            e.RealizedPnL,
			PnLPercent:     e.RealizedPnLPercent,
			RMultiple:      e.RMultiple,
			Notes:          len(e.Notes),
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return errors.Wrap(err, "writing ledger csv")
	}
	return nil
}
