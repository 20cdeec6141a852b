package scenario

import (
	"encoding/json"
	"math"
	"testing"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

func tradable(t models.ScenarioType, entry, stop, target float64) models.Scenario {
	return models.Scenario{
		Type:       t,
		EntryPrice: models.Float(entry),
		StopLoss:   models.Float(stop),
		Target1:    models.Float(target),
	}
}

func TestClassify(t *testing.T) {
	s := tradable(models.ScenarioA, 100, 95, 110)

	tests := []struct {
		name  string
		price float64
		want  Proximity
	}{
		{"exact entry", 100, AtTrigger},
		{"inside trigger band above", 100.3, AtTrigger},
		{"inside trigger band below", 99.7, AtTrigger},
		{"just outside trigger band", 100.31, Approaching},
		{"approaching edge", 101.5, Approaching},
		{"far above", 101.6, Far},
		{"far below", 90, Far},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(s, tt.price)
			if got.Proximity != tt.want {
				t.Errorf("Classify(%v) = %s (distance %.4f), want %s", tt.price, got.Proximity, got.DistancePct, tt.want)
			}
			if !got.Tradable {
				t.Errorf("expected scenario to be tradable, reason %q", got.Reason)
			}
		})
	}
}

func TestClassifyNoEntryIsFar(t *testing.T) {
	s := models.Scenario{Type: models.ScenarioC, TriggerPrice: models.Float(100)}
	got := Classify(s, 100)
	if got.Proximity != Far {
		t.Errorf("expected far, got %s", got.Proximity)
	}
	if got.Tradable {
		t.Error("scenario without entry must not be tradable")
	}
	if got.Reason != ReasonNoTrade {
		t.Errorf("reason = %q, want %q", got.Reason, ReasonNoTrade)
	}
}

func TestClassifyMissingLevelsReportedButNotTradable(t *testing.T) {
	s := models.Scenario{Type: models.ScenarioB, EntryPrice: models.Float(100), Target1: models.Float(110)}
	got := Classify(s, 100)
	if got.Proximity != AtTrigger {
		t.Errorf("expected at_trigger for display, got %s", got.Proximity)
	}
	if got.Tradable {
		t.Error("scenario without stop must not be tradable")
	}
	if got.Reason != ReasonNoLevels {
		t.Errorf("reason = %q, want %q", got.Reason, ReasonNoLevels)
	}
}

func TestPickEntryCanonicalOrder(t *testing.T) {
	evals := []Evaluation{
		{Scenario: models.ScenarioB, Proximity: AtTrigger, Tradable: true},
		{Scenario: models.ScenarioA, Proximity: AtTrigger, Tradable: true},
		{Scenario: models.ScenarioC, Proximity: AtTrigger, Tradable: false},
	}
	got, ok := PickEntry(evals)
	if !ok {
		t.Fatal("expected an entry")
	}
	if got.Scenario != models.ScenarioA {
		t.Errorf("picked %s, want A", got.Scenario)
	}

	_, ok = PickEntry([]Evaluation{{Scenario: models.ScenarioC, Proximity: AtTrigger}})
	if ok {
		t.Error("untradable scenario must not be picked")
	}
}

func TestDirection(t *testing.T) {
	long, err := Direction(tradable(models.ScenarioA, 100, 95, 110))
	if err != nil || long != models.Long {
		t.Errorf("got %s, %v; want long", long, err)
	}
	short, err := Direction(tradable(models.ScenarioB, 100, 105, 90))
	if err != nil || short != models.Short {
		t.Errorf("got %s, %v; want short", short, err)
	}
	_, err = Direction(tradable(models.ScenarioB, 100, 105, 100))
	if !errors.Is(err, errors.ErrInvalidScenario) {
		t.Errorf("flat levels should be invalid, got %v", err)
	}
}

func TestInvalidationLevelPrefersTrigger(t *testing.T) {
	plan := &models.Plan{Scenarios: []models.Scenario{
		{Type: models.ScenarioD, TriggerPrice: models.Float(92), StopLoss: models.Float(90)},
	}}
	level, ok := InvalidationLevel(plan)
	if !ok || level != 92 {
		t.Errorf("got %v %v, want 92", level, ok)
	}

	plan.Scenarios[0].TriggerPrice = nil
	level, ok = InvalidationLevel(plan)
	if !ok || level != 90 {
		t.Errorf("got %v %v, want 90", level, ok)
	}

	plan.Scenarios[0].StopLoss = nil
	if _, ok := InvalidationLevel(plan); ok {
		t.Error("expected no invalidation level")
	}
}

func TestInvalidated(t *testing.T) {
	if !Invalidated(92, models.Long, 92) || Invalidated(92, models.Long, 92.01) {
		t.Error("long invalidation should fire at or below level")
	}
	if !Invalidated(108, models.Short, 108) || Invalidated(108, models.Short, 107.99) {
		t.Error("short invalidation should fire at or above level")
	}
}

func TestChaosActive(t *testing.T) {
	plan := &models.Plan{Scenarios: []models.Scenario{
		{Type: models.ScenarioC, TriggerPrice: models.Float(100)},
	}}
	if !ChaosActive(plan, 100.5) {
		t.Error("expected chaos within 0.5%")
	}
	if ChaosActive(plan, 100.6) {
		t.Error("expected no chaos outside 0.5%")
	}
}

func TestIsApproachAlert(t *testing.T) {
	s := tradable(models.ScenarioA, 100, 95, 110)
	if !IsApproachAlert(Classify(s, 101)) {
		t.Error("1% away should alert")
	}
	if IsApproachAlert(Classify(s, 101.2)) {
		t.Error("1.2% away should not alert")
	}
	if IsApproachAlert(Classify(s, 100.1)) {
		t.Error("at trigger is not an approach alert")
	}
}

func TestDistancePctZeroEntry(t *testing.T) {
	if !math.IsInf(DistancePct(100, 0), 1) {
		t.Error("zero entry should yield infinite distance")
	}
}

func TestEvaluationJSONUnboundedDistance(t *testing.T) {
	evals := EvaluatePlan(&models.Plan{Scenarios: []models.Scenario{
		tradable(models.ScenarioA, 100, 95, 110),
		{Type: models.ScenarioB},
	}}, 101)

	data, err := json.Marshal(evals)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d evaluations", len(out))
	}
	if d, ok := out[0]["distance_pct"].(float64); !ok || math.Abs(d-1) > 1e-9 {
		t.Errorf("A distance = %v", out[0]["distance_pct"])
	}
	if out[1]["distance_pct"] != nil || out[1]["reason"] != ReasonNoTrade {
		t.Errorf("B = %v", out[1])
	}
}
