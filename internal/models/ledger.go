package models

import "time"

// LedgerEntry is the immutable journal record of a closed position.
// Only Notes may be appended after creation.
type LedgerEntry struct {
	ID                 string       `json:"id"`
	PositionID         string       `json:"position_id"`
	PlanID             string       `json:"plan_id"`
	Instrument         string       `json:"instrument"`
	Timeframe          string       `json:"timeframe"`
	Thesis             string       `json:"thesis"`
	Direction          Direction    `json:"direction"`
	EntryScenario      ScenarioType `json:"entry_scenario"`
	ActualScenario     ScenarioType `json:"actual_scenario"`
	ActualProbability  int          `json:"actual_probability"`
	EntryPrice         float64      `json:"entry_price"`
	ExitPrice          float64      `json:"exit_price"`
	Size               float64      `json:"size"`
	Leverage           float64      `json:"leverage"`
	StopLoss           float64      `json:"stop_loss"`
	Target1            float64      `json:"target1"`
	Target2            *float64     `json:"target2,omitempty"`
	Target3            *float64     `json:"target3,omitempty"`
	OpenedAt           time.Time    `json:"opened_at"`
	ClosedAt           time.Time    `json:"closed_at"`
	ExitReason         ExitReason   `json:"exit_reason"`
	RealizedPnL        float64      `json:"realized_pnl"`
	RealizedPnLPercent float64      `json:"realized_pnl_percent"`
	RMultiple          float64      `json:"r_multiple"`
	Notes              []Note       `json:"notes,omitempty"`
}

// Note is an operator annotation attached to a ledger entry.
type Note struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLedgerEntry snapshots a closed position together with its plan.
func NewLedgerEntry(id string, pos *Position, plan *Plan) *LedgerEntry {
	e := &LedgerEntry{
		ID:                 id,
		PositionID:         pos.ID,
		PlanID:             pos.PlanID,
		Instrument:         pos.Instrument,
		Direction:          pos.Direction,
		EntryScenario:      pos.Scenario,
		ActualScenario:     pos.ActualScenario,
		EntryPrice:         pos.EntryPrice,
		ExitPrice:          pos.ExitPrice,
		Size:               pos.Size,
		Leverage:           pos.Leverage,
		StopLoss:           pos.StopLoss,
		Target1:            pos.Target1,
		Target2:            cloneLevel(pos.Target2),
		Target3:            cloneLevel(pos.Target3),
		OpenedAt:           pos.OpenedAt,
		ExitReason:         pos.ExitReason,
		RealizedPnL:        pos.RealizedPnL,
		RealizedPnLPercent: pos.RealizedPnLPercent,
		RMultiple:          pos.RMultiple,
	}
	if pos.ExitTime != nil {
		e.ClosedAt = *pos.ExitTime
	}
	if plan != nil {
		e.Timeframe = plan.Timeframe
		e.Thesis = plan.Thesis
		if s, ok := plan.Scenario(pos.ActualScenario); ok {
			e.ActualProbability = s.Probability
		}
	}
	return e
}

// IsWin reports whether the entry closed with a positive P&L.
func (e *LedgerEntry) IsWin() bool {
	return e.RealizedPnL > 0
}

// Clone returns a deep copy of the entry.
func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	c.Target2 = cloneLevel(e.Target2)
	c.Target3 = cloneLevel(e.Target3)
	if e.Notes != nil {
		c.Notes = append([]Note(nil), e.Notes...)
	}
	return &c
}
