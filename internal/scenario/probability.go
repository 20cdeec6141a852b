package scenario

import (
	"fmt"
	"math"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

// Rebalance sets the probability of scenario t to newValue and spreads the
// difference across the other scenarios in proportion to their current
// share, clamping at zero. The input slice is not modified.
//
// When every other scenario is already at zero there is nothing to take
// from; the edited value is applied alone and the sum may differ from 100
// until another scenario is edited.
func Rebalance(scenarios []models.Scenario, t models.ScenarioType, newValue int) []models.Scenario {
	out := make([]models.Scenario, len(scenarios))
	copy(out, scenarios)

	if newValue < 0 {
		newValue = 0
	}
	if newValue > 100 {
		newValue = 100
	}

	edited := -1
	othersSum := 0
	for i, s := range out {
		if s.Type == t {
			edited = i
			continue
		}
		othersSum += s.Probability
	}
	if edited < 0 {
		return out
	}

	diff := newValue - out[edited].Probability
	out[edited].Probability = newValue
	if diff == 0 || othersSum == 0 {
		return out
	}

	largest := -1
	assigned := 0
	for i := range out {
		if i == edited {
			continue
		}
		share := float64(out[i].Probability) / float64(othersSum)
		adjusted := int(math.Round(float64(out[i].Probability) - float64(diff)*share))
		if adjusted < 0 {
			adjusted = 0
		}
		out[i].Probability = adjusted
		assigned += adjusted
		if largest < 0 || out[i].Probability > out[largest].Probability {
			largest = i
		}
	}

	// Give the rounding residual to the largest remaining share.
	target := 100 - newValue
	if residual := target - assigned; residual != 0 && largest >= 0 {
		if v := out[largest].Probability + residual; v >= 0 {
			out[largest].Probability = v
		}
	}

	return out
}

// Sum returns the total probability of the scenarios.
func Sum(scenarios []models.Scenario) int {
	total := 0
	for _, s := range scenarios {
		total += s.Probability
	}
	return total
}

// ValidatePlan checks the structural invariants of a battle card: exactly
// four scenarios in A..D order, probabilities within 0-100, and a total of
// 100 once the plan has left draft.
func ValidatePlan(plan *models.Plan) error {
	if plan.Instrument == "" {
		return errors.NewValidationError("instrument", plan.Instrument, "required")
	}
	if !plan.Status.Valid() {
		return errors.NewValidationError("status", plan.Status, "unknown status")
	}
	if len(plan.Scenarios) != len(models.ScenarioTypes) {
		return errors.NewInvariantError("scenario_count", plan.ID,
			fmt.Sprintf("expected %d scenarios, got %d", len(models.ScenarioTypes), len(plan.Scenarios)))
	}
	for i, t := range models.ScenarioTypes {
		s := plan.Scenarios[i]
		if s.Type != t {
			return errors.NewInvariantError("scenario_order", plan.ID,
				fmt.Sprintf("position %d holds %q, expected %q", i, s.Type, t))
		}
		if s.Probability < 0 || s.Probability > 100 {
			return errors.NewValidationError("probability", s.Probability, fmt.Sprintf("scenario %s out of range", t))
		}
	}
	if plan.Status != models.PlanDraft {
		if sum := plan.ProbabilitySum(); sum != 100 {
			return errors.NewInvariantError("probability_sum", plan.ID, fmt.Sprintf("probabilities sum to %d", sum))
		}
	}
	return nil
}

// NewScenarios returns the four empty scenario slots in canonical order.
func NewScenarios() []models.Scenario {
	out := make([]models.Scenario, len(models.ScenarioTypes))
	for i, t := range models.ScenarioTypes {
		out[i] = models.Scenario{Type: t}
	}
	return out
}
