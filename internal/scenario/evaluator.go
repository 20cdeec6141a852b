// Package scenario classifies battle-card scenarios against live prices
// and keeps scenario probabilities balanced.
package scenario

import (
	"encoding/json"
	"math"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

// Distance bands, in percent of the entry price.
const (
	AtTriggerPct     = 0.3
	ApproachingPct   = 1.5
	ApproachAlertPct = 1.0
	ChaosBandPct     = 0.5
)

// Proximity classifies how close price is to a scenario's entry.
type Proximity string

const (
	AtTrigger   Proximity = "at_trigger"
	Approaching Proximity = "approaching"
	Far         Proximity = "far"
)

// Reasons reported for scenarios that cannot open a position.
const (
	ReasonNoTrade      = "no trade scenario"
	ReasonNoLevels     = "no trade levels set"
	ReasonFlatLevels   = "target equals entry"
	ReasonInvalidPrice = "invalid price"
)

// Evaluation is the result of classifying one scenario at one price.
type Evaluation struct {
	Scenario    models.ScenarioType `json:"scenario"`
	Proximity   Proximity           `json:"proximity"`
	DistancePct float64             `json:"distance_pct"`
	Tradable    bool                `json:"tradable"`
	Reason      string              `json:"reason,omitempty"`
}

// MarshalJSON encodes an unbounded distance as null.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	type plain Evaluation
	out := struct {
		plain
		DistancePct *float64 `json:"distance_pct"`
	}{plain: plain(e)}
	if !math.IsInf(e.DistancePct, 0) && !math.IsNaN(e.DistancePct) {
		d := e.DistancePct
		out.DistancePct = &d
	}
	return json.Marshal(out)
}

// DistancePct returns |price - entry| / entry * 100.
func DistancePct(price, entry float64) float64 {
	if entry == 0 {
		return math.Inf(1)
	}
	return math.Abs(price-entry) / entry * 100
}

// Classify computes the distance from price to the scenario entry and
// buckets it. Scenarios without an entry price are always far.
func Classify(s models.Scenario, price float64) Evaluation {
	eval := Evaluation{
		Scenario:    s.Type,
		Proximity:   Far,
		DistancePct: math.Inf(1),
	}

	if !models.HasLevel(s.EntryPrice) {
		eval.Reason = ReasonNoTrade
		return eval
	}
	if price <= 0 || math.IsNaN(price) {
		eval.Reason = ReasonInvalidPrice
		return eval
	}

	eval.DistancePct = DistancePct(price, *s.EntryPrice)
	switch {
	case eval.DistancePct <= AtTriggerPct:
		eval.Proximity = AtTrigger
	case eval.DistancePct <= ApproachingPct:
		eval.Proximity = Approaching
	}

	switch {
	case !s.HasTradeLevels():
		eval.Reason = ReasonNoLevels
	case *s.Target1 == *s.EntryPrice:
		eval.Reason = ReasonFlatLevels
	default:
		eval.Tradable = true
	}

	return eval
}

// EvaluatePlan classifies every scenario of the plan in canonical order.
func EvaluatePlan(plan *models.Plan, price float64) []Evaluation {
	evals := make([]Evaluation, 0, len(models.ScenarioTypes))
	for _, t := range models.ScenarioTypes {
		s, ok := plan.Scenario(t)
		if !ok {
			continue
		}
		evals = append(evals, Classify(s, price))
	}
	return evals
}

// PickEntry returns the first tradable scenario at its trigger, in A..D order.
func PickEntry(evals []Evaluation) (Evaluation, bool) {
	for _, t := range models.ScenarioTypes {
		for _, e := range evals {
			if e.Scenario == t && e.Tradable && e.Proximity == AtTrigger {
				return e, true
			}
		}
	}
	return Evaluation{}, false
}

// IsApproachAlert reports whether the evaluation is inside the alert band
// but has not yet reached the trigger.
func IsApproachAlert(e Evaluation) bool {
	return e.Proximity != AtTrigger && e.DistancePct <= ApproachAlertPct
}

// Direction derives the position side from the scenario's planned levels.
func Direction(s models.Scenario) (models.Direction, error) {
	if !models.HasLevel(s.EntryPrice) || !models.HasLevel(s.Target1) {
		return "", errors.NewScenarioError("", string(s.Type), ReasonNoLevels)
	}
	switch diff := *s.Target1 - *s.EntryPrice; {
	case diff > 0:
		return models.Long, nil
	case diff < 0:
		return models.Short, nil
	default:
		return "", errors.NewScenarioError("", string(s.Type), ReasonFlatLevels)
	}
}

// InvalidationLevel returns the plan's invalidation price: scenario D's
// trigger price, else its stop loss.
func InvalidationLevel(plan *models.Plan) (float64, bool) {
	d, ok := plan.Scenario(models.ScenarioD)
	if !ok {
		return 0, false
	}
	if models.HasLevel(d.TriggerPrice) {
		return *d.TriggerPrice, true
	}
	if models.HasLevel(d.StopLoss) {
		return *d.StopLoss, true
	}
	return 0, false
}

// Invalidated reports whether price has breached the invalidation level for
// a position in the given direction.
func Invalidated(level float64, dir models.Direction, price float64) bool {
	if dir == models.Short {
		return price >= level
	}
	return price <= level
}

// ChaosActive reports whether scenario C's trigger price is within the chaos
// band of the current price. Advisory only.
func ChaosActive(plan *models.Plan, price float64) bool {
	c, ok := plan.Scenario(models.ScenarioC)
	if !ok || !models.HasLevel(c.TriggerPrice) {
		return false
	}
	return DistancePct(price, *c.TriggerPrice) <= ChaosBandPct
}

// MissingLevels lists the trade levels a scenario lacks.
func MissingLevels(s models.Scenario) []string {
	var missing []string
	if !models.HasLevel(s.EntryPrice) {
		missing = append(missing, "entry_price")
	}
	if !models.HasLevel(s.StopLoss) {
		missing = append(missing, "stop_loss")
	}
	if !models.HasLevel(s.Target1) {
		missing = append(missing, "target1")
	}
	return missing
}
