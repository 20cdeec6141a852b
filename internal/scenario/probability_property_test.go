package scenario

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

// scenariosFromCuts builds four probabilities summing to 100 from three cut points.
func scenariosFromCuts(a, b, c int) []models.Scenario {
	cuts := []int{a, b, c}
	// sort three ints
	for i := 0; i < len(cuts); i++ {
		for j := i + 1; j < len(cuts); j++ {
			if cuts[j] < cuts[i] {
				cuts[i], cuts[j] = cuts[j], cuts[i]
			}
		}
	}
	probs := []int{cuts[0], cuts[1] - cuts[0], cuts[2] - cuts[1], 100 - cuts[2]}
	out := NewScenarios()
	for i := range out {
		out[i].Probability = probs[i]
	}
	return out
}

// Property: for probabilities summing to 100 and any edit within 0..100 with
// at least one other scenario above zero, the result sums to 100 and no
// probability is negative.
func TestProperty_RebalanceConservesProbability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("rebalanced probabilities sum to 100 and stay non-negative", prop.ForAll(
		func(a, b, c, idx, newValue int) bool {
			in := scenariosFromCuts(a, b, c)
			edited := models.ScenarioTypes[idx]

			others := 0
			for _, s := range in {
				if s.Type != edited {
					others += s.Probability
				}
			}
			if others == 0 {
				return true
			}

			out := Rebalance(in, edited, newValue)

			sum := Sum(out)
			if sum < 99 || sum > 101 {
				t.Logf("sum %d for %+v edit %s=%d", sum, in, edited, newValue)
				return false
			}
			for _, s := range out {
				if s.Probability < 0 {
					return false
				}
				if s.Type == edited && s.Probability != newValue {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.IntRange(0, 3),
		gen.IntRange(0, 100),
	))

	properties.Property("input slice is not mutated", prop.ForAll(
		func(a, b, c, newValue int) bool {
			in := scenariosFromCuts(a, b, c)
			before := make([]int, len(in))
			for i, s := range in {
				before[i] = s.Probability
			}
			Rebalance(in, models.ScenarioB, newValue)
			for i, s := range in {
				if s.Probability != before[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestRebalanceProportional(t *testing.T) {
	in := NewScenarios()
	for i, p := range []int{40, 30, 20, 10} {
		in[i].Probability = p
	}

	out := Rebalance(in, models.ScenarioA, 70)
	want := []int{70, 15, 10, 5}
	for i, s := range out {
		if s.Probability != want[i] {
			t.Errorf("scenario %s = %d, want %d", s.Type, s.Probability, want[i])
		}
	}
}

func TestRebalanceOthersAtZero(t *testing.T) {
	in := NewScenarios()
	in[0].Probability = 100

	out := Rebalance(in, models.ScenarioA, 60)
	if out[0].Probability != 60 {
		t.Errorf("edited value = %d, want 60", out[0].Probability)
	}
	if Sum(out) != 60 {
		t.Errorf("sum = %d, want 60 (nothing to redistribute to)", Sum(out))
	}
}

func TestValidatePlan(t *testing.T) {
	plan := &models.Plan{
		ID:         "p1",
		Instrument: "BTCUSDT",
		Status:     models.PlanActive,
		Scenarios:  scenariosFromCuts(50, 80, 95),
	}
	if err := ValidatePlan(plan); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	plan.Scenarios[1].Probability += 5
	if err := ValidatePlan(plan); !errors.Is(err, errors.ErrInvariantViolation) {
		t.Errorf("expected invariant violation, got %v", err)
	}

	plan.Status = models.PlanDraft
	if err := ValidatePlan(plan); err != nil {
		t.Errorf("draft plans may be unbalanced, got %v", err)
	}

	plan.Scenarios[0], plan.Scenarios[1] = plan.Scenarios[1], plan.Scenarios[0]
	if err := ValidatePlan(plan); !errors.Is(err, errors.ErrInvariantViolation) {
		t.Errorf("expected order violation, got %v", err)
	}
}
