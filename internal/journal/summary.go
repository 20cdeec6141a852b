// Package journal computes statistics over the ledger of closed positions.
package journal

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"scenario-trader/internal/models"
)

// Summary aggregates a set of ledger entries.
type Summary struct {
	Count        int           `json:"count"`
	Wins         int           `json:"wins"`
	Losses       int           `json:"losses"`
	Breakeven    int           `json:"breakeven"`
	WinRate      float64       `json:"win_rate"`
	TotalPnL     float64       `json:"total_pnl"`
	AvgPnLPct    float64       `json:"avg_pnl_percent"`
	AvgR         float64       `json:"avg_r"`
	Expectancy   float64       `json:"expectancy"`
	AvgWin       float64       `json:"avg_win"`
	AvgLoss      float64       `json:"avg_loss"`
	ProfitFactor float64       `json:"profit_factor"`
	MaxDrawdown  float64       `json:"max_drawdown"`
	AvgHold      time.Duration `json:"avg_hold"`

	Best  *models.LedgerEntry `json:"best,omitempty"`
	Worst *models.LedgerEntry `json:"worst,omitempty"`

	ByExitReason     map[models.ExitReason]int             `json:"by_exit_reason"`
	ByActualScenario map[models.ScenarioType]int           `json:"by_actual_scenario"`
	ByEntryScenario  map[models.ScenarioType]ScenarioStats `json:"by_entry_scenario"`

	// ScenarioHitRate is the share of entries whose entry scenario was the
	// one that played out, in percent.
	ScenarioHitRate float64 `json:"scenario_hit_rate"`
}

// ScenarioStats are outcomes grouped by entry scenario.
type ScenarioStats struct {
	Count    int     `json:"count"`
	Hits     int     `json:"hits"`
	Wins     int     `json:"wins"`
	TotalPnL float64 `json:"total_pnl"`
	AvgR     float64 `json:"avg_r"`
}

// Summarize computes the summary of entries. Drawdown is measured on the
// cumulative P&L in close order.
func Summarize(entries []*models.LedgerEntry) Summary {
	s := Summary{
		ByExitReason:     make(map[models.ExitReason]int),
		ByActualScenario: make(map[models.ScenarioType]int),
		ByEntryScenario:  make(map[models.ScenarioType]ScenarioStats),
	}
	if len(entries) == 0 {
		return s
	}

	ordered := make([]*models.LedgerEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClosedAt.Before(ordered[j].ClosedAt)
	})

	var total, pnlPct, rSum decimal.Decimal
	var grossProfit, grossLoss decimal.Decimal
	var equity, peak, drawdown decimal.Decimal
	var hold time.Duration
	hits := 0
	scenarioR := make(map[models.ScenarioType]decimal.Decimal)

	for _, e := range ordered {
		pnl := decimal.NewFromFloat(e.RealizedPnL)
		total = total.Add(pnl)
		pnlPct = pnlPct.Add(decimal.NewFromFloat(e.RealizedPnLPercent))
		rSum = rSum.Add(decimal.NewFromFloat(e.RMultiple))

		switch {
		case e.RealizedPnL > 0:
			s.Wins++
			grossProfit = grossProfit.Add(pnl)
		case e.RealizedPnL < 0:
			s.Losses++
			grossLoss = grossLoss.Add(pnl.Abs())
		default:
			s.Breakeven++
		}

		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(drawdown) {
			drawdown = dd
		}

		if s.Best == nil || e.RealizedPnL > s.Best.RealizedPnL {
			s.Best = e
		}
		if s.Worst == nil || e.RealizedPnL < s.Worst.RealizedPnL {
			s.Worst = e
		}

		s.ByExitReason[e.ExitReason]++
		if e.ActualScenario != "" {
			s.ByActualScenario[e.ActualScenario]++
		}

		hit := e.EntryScenario == e.ActualScenario
		if hit {
			hits++
		}
		st := s.ByEntryScenario[e.EntryScenario]
		st.Count++
		if hit {
			st.Hits++
		}
		if e.RealizedPnL > 0 {
			st.Wins++
		}
		st.TotalPnL = decimal.NewFromFloat(st.TotalPnL).Add(pnl).InexactFloat64()
		s.ByEntryScenario[e.EntryScenario] = st
		scenarioR[e.EntryScenario] = scenarioR[e.EntryScenario].Add(decimal.NewFromFloat(e.RMultiple))

		if !e.ClosedAt.IsZero() && !e.OpenedAt.IsZero() {
			hold += e.ClosedAt.Sub(e.OpenedAt)
		}
	}

	n := decimal.NewFromInt(int64(len(ordered)))
	s.Count = len(ordered)
	s.WinRate = float64(s.Wins) / float64(s.Count) * 100
	s.TotalPnL = total.InexactFloat64()
	s.AvgPnLPct = pnlPct.Div(n).InexactFloat64()
	s.AvgR = rSum.Div(n).InexactFloat64()
	s.Expectancy = s.AvgR
	s.MaxDrawdown = drawdown.InexactFloat64()
	s.ScenarioHitRate = float64(hits) / float64(s.Count) * 100
	s.AvgHold = hold / time.Duration(s.Count)

	if s.Wins > 0 {
		s.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(s.Wins))).InexactFloat64()
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss.Neg().Div(decimal.NewFromInt(int64(s.Losses))).InexactFloat64()
	}
	if grossLoss.IsPositive() {
		s.ProfitFactor = grossProfit.Div(grossLoss).InexactFloat64()
	}

	for t, st := range s.ByEntryScenario {
		st.AvgR = scenarioR[t].Div(decimal.NewFromInt(int64(st.Count))).InexactFloat64()
		s.ByEntryScenario[t] = st
	}

	return s
}
