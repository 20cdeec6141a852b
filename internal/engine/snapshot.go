package engine

import (
	"sort"

	"scenario-trader/internal/models"
	"scenario-trader/internal/risk"
	"scenario-trader/internal/scenario"
)

// PlanSnapshot is a read-only view of one plan for display.
type PlanSnapshot struct {
	Plan              *models.Plan          `json:"plan"`
	Quote             *models.Quote         `json:"quote,omitempty"`
	Evaluations       []scenario.Evaluation `json:"evaluations,omitempty"`
	Position          *models.Position      `json:"position,omitempty"`
	Unrealized        *risk.Result          `json:"unrealized,omitempty"`
	InvalidationLevel *float64              `json:"invalidation_level,omitempty"`
	Chaos             bool                  `json:"chaos"`
	Fired             []string              `json:"fired,omitempty"`
}

// Metrics are engine counters since start.
type Metrics struct {
	TicksProcessed      uint64                       `json:"ticks_processed"`
	TicksDropped        uint64                       `json:"ticks_dropped"`
	Entries             uint64                       `json:"entries"`
	Exits               map[models.ExitReason]uint64 `json:"exits"`
	SkippedNoPrice      uint64                       `json:"skipped_no_price"`
	InvariantViolations uint64                       `json:"invariant_violations"`
	RefreshFailures     uint64                       `json:"refresh_failures"`
	Plans               int                          `json:"plans"`
	OpenPositions       int                          `json:"open_positions"`
}

// Status returns the snapshot of one plan.
func (e *Engine) Status(planID string) (PlanSnapshot, bool) {
	st := e.state(planID)
	if st == nil {
		return PlanSnapshot{}, false
	}
	return e.snapshot(st), true
}

// Statuses returns a snapshot of every indexed plan, oldest first.
func (e *Engine) Statuses() []PlanSnapshot {
	e.mu.RLock()
	states := make([]*planState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]PlanSnapshot, 0, len(states))
	for _, st := range states {
		out = append(out, e.snapshot(st))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Plan, out[j].Plan
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (e *Engine) snapshot(st *planState) PlanSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := PlanSnapshot{Plan: st.plan.Clone()}
	if st.position != nil {
		snap.Position = st.position.Clone()
	}
	if level, ok := scenario.InvalidationLevel(st.plan); ok {
		snap.InvalidationLevel = models.Float(level)
	}
	for _, k := range e.actions.Keys(st.plan.ID) {
		snap.Fired = append(snap.Fired, k.String())
	}
	sort.Strings(snap.Fired)

	q, ok := e.quote(st.plan.Instrument)
	if !ok {
		return snap
	}
	snap.Quote = &q
	snap.Evaluations = scenario.EvaluatePlan(st.plan, q.Price)
	snap.Chaos = scenario.ChaosActive(st.plan, q.Price)
	if st.position != nil {
		res := risk.CalcPosition(st.position, q.Price)
		snap.Unrealized = &res
	}
	return snap
}

// Metrics returns a copy of the engine counters.
func (e *Engine) Metrics() Metrics {
	e.metricsMu.Lock()
	m := e.metrics
	m.Exits = make(map[models.ExitReason]uint64, len(e.metrics.Exits))
	for k, v := range e.metrics.Exits {
		m.Exits[k] = v
	}
	e.metricsMu.Unlock()

	e.mu.RLock()
	states := make([]*planState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	m.Plans = len(states)
	for _, st := range states {
		st.mu.Lock()
		if st.position != nil {
			m.OpenPositions++
		}
		st.mu.Unlock()
	}
	return m
}

func (e *Engine) count(fn func(*Metrics)) {
	e.metricsMu.Lock()
	fn(&e.metrics)
	e.metricsMu.Unlock()
}
