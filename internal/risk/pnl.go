// Package risk converts simulated positions into P&L and R-multiples.
package risk

import (
	"github.com/shopspring/decimal"

	"scenario-trader/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Terms holds the position fields the calculator needs.
type Terms struct {
	Direction  models.Direction
	EntryPrice float64
	StopLoss   float64
	Size       float64
}

// TermsOf extracts calculator terms from a position.
func TermsOf(p *models.Position) Terms {
	return Terms{
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		Size:       p.Size,
	}
}

// Result is the output of Calc.
type Result struct {
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnl_percent"`
	RMultiple  float64 `json:"r_multiple"`
}

// Calc computes P&L for a position at price.
//
// Leverage scales PnL and PnLPercent linearly. RMultiple is computed from the
// unleveraged directional return and is therefore leverage independent. A
// stop placed at the entry price yields an RMultiple of 0.
func Calc(t Terms, price, leverage float64) Result {
	if t.EntryPrice <= 0 {
		return Result{}
	}

	entry := decimal.NewFromFloat(t.EntryPrice)
	lev := decimal.NewFromFloat(leverage)
	if lev.LessThan(one) {
		lev = one
	}

	priceDiff := decimal.NewFromFloat(price).Sub(entry)
	pnlPercentRaw := priceDiff.Div(entry).Mul(hundred)
	directional := pnlPercentRaw
	if t.Direction == models.Short {
		directional = directional.Neg()
	}
	leveragedPct := directional.Mul(lev)
	pnl := decimal.NewFromFloat(t.Size).Mul(leveragedPct).Div(hundred)

	riskPct := entry.Sub(decimal.NewFromFloat(t.StopLoss)).Abs().Div(entry).Mul(hundred)
	rMultiple := decimal.Zero
	if riskPct.IsPositive() {
		rMultiple = directional.Div(riskPct)
	}

	return Result{
		PnL:        pnl.InexactFloat64(),
		PnLPercent: leveragedPct.InexactFloat64(),
		RMultiple:  rMultiple.InexactFloat64(),
	}
}

// CalcPosition is Calc using the position's own terms and leverage.
func CalcPosition(p *models.Position, price float64) Result {
	return Calc(TermsOf(p), price, p.Leverage)
}

// RiskReward returns the planned reward-to-risk ratio of a set of levels,
// or 0 when the stop sits on the entry.
func RiskReward(entry, stop, target float64) float64 {
	e := decimal.NewFromFloat(entry)
	riskAmt := e.Sub(decimal.NewFromFloat(stop)).Abs()
	if riskAmt.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(target).Sub(e).Abs().Div(riskAmt).InexactFloat64()
}
