package store

import (
	"bytes"
	"strings"
	"testing"

	"scenario-trader/internal/models"
)

const singlePlanYAML = `
instrument: BTCUSDT
timeframe: 4h
thesis: reclaim of range high
status: active
scenarios:
  - type: B
    probability: 30
    entry_price: 98
    stop_loss: 94
    target1: 106
  - type: A
    probability: 50
    entry_price: 100
    stop_loss: 95
    target1: 110
    target2: 120
  - type: D
    probability: 20
    trigger_price: 90
`

func TestDecodeSinglePlan(t *testing.T) {
	plans, err := DecodePlans(strings.NewReader(singlePlanYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want 1", len(plans))
	}
	p := plans[0]
	if p.ID == "" {
		t.Error("expected generated id")
	}
	if p.Status != models.PlanActive {
		t.Errorf("status = %s", p.Status)
	}
	if len(p.Scenarios) != 4 {
		t.Fatalf("scenarios = %d, want 4", len(p.Scenarios))
	}
	for i, want := range models.ScenarioTypes {
		if p.Scenarios[i].Type != want {
			t.Errorf("scenario %d = %s, want %s", i, p.Scenarios[i].Type, want)
		}
	}
	if p.Scenarios[2].Probability != 0 || p.Scenarios[2].EntryPrice != nil {
		t.Errorf("missing C should be empty, got %+v", p.Scenarios[2])
	}
	if models.Level(p.Scenarios[0].Target2) != 120 {
		t.Errorf("A target2 = %v", p.Scenarios[0].Target2)
	}
	if p.ProbabilitySum() != 100 {
		t.Errorf("sum = %d", p.ProbabilitySum())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	plans, err := DecodePlans(strings.NewReader(singlePlanYAML))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := EncodePlans(&buf, plans); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "plans:") {
		t.Fatalf("expected plans list, got:\n%s", buf.String())
	}

	again, err := DecodePlans(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 || again[0].ID != plans[0].ID || again[0].Instrument != "BTCUSDT" {
		t.Fatalf("round trip mismatch: %+v", again)
	}
	if !again[0].CreatedAt.Equal(plans[0].CreatedAt) {
		t.Errorf("created_at = %v, want %v", again[0].CreatedAt, plans[0].CreatedAt)
	}
}

func TestDecodeMultipleDocuments(t *testing.T) {
	doc := singlePlanYAML + "\n---\n" + strings.Replace(singlePlanYAML, "BTCUSDT", "ETHUSDT", 1)
	plans, err := DecodePlans(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 || plans[1].Instrument != "ETHUSDT" {
		t.Fatalf("plans = %+v", plans)
	}
	if plans[0].ID == plans[1].ID {
		t.Error("ids must differ")
	}
}
