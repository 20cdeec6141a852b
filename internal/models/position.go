package models

import "time"

// PositionStatus represents the state of a simulated position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopHit      ExitReason = "stop_hit"
	ExitTarget1Hit   ExitReason = "target1_hit"
	ExitTarget2Hit   ExitReason = "target2_hit"
	ExitTarget3Hit   ExitReason = "target3_hit"
	ExitInvalidation ExitReason = "invalidation"
	ExitManual       ExitReason = "manual"
)

// Valid reports whether r is a known exit reason.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStopHit, ExitTarget1Hit, ExitTarget2Hit, ExitTarget3Hit, ExitInvalidation, ExitManual:
		return true
	}
	return false
}

// Position is a simulated position opened when a scenario triggers.
type Position struct {
	ID         string         `json:"id"`
	PlanID     string         `json:"plan_id"`
	Scenario   ScenarioType   `json:"scenario"`
	Instrument string         `json:"instrument"`
	Direction  Direction      `json:"direction"`
	EntryPrice float64        `json:"entry_price"`
	OpenedAt   time.Time      `json:"opened_at"`
	Size       float64        `json:"size"`
	Leverage   float64        `json:"leverage"`
	StopLoss   float64        `json:"stop_loss"`
	Target1    float64        `json:"target1"`
	Target2    *float64       `json:"target2,omitempty"`
	Target3    *float64       `json:"target3,omitempty"`
	Status     PositionStatus `json:"status"`

	// Set when closed
	ExitPrice          float64      `json:"exit_price,omitempty"`
	ExitTime           *time.Time   `json:"exit_time,omitempty"`
	ExitReason         ExitReason   `json:"exit_reason,omitempty"`
	ActualScenario     ScenarioType `json:"actual_scenario,omitempty"`
	RealizedPnL        float64      `json:"realized_pnl"`
	RealizedPnLPercent float64      `json:"realized_pnl_percent"`
	RMultiple          float64      `json:"r_multiple"`
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// HoldDuration returns how long the position was (or has been) held.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	if p.ExitTime != nil {
		return p.ExitTime.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	c.Target2 = cloneLevel(p.Target2)
	c.Target3 = cloneLevel(p.Target3)
	if p.ExitTime != nil {
		t := *p.ExitTime
		c.ExitTime = &t
	}
	return &c
}
