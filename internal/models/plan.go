package models

import "time"

// PlanStatus represents the status of a battle card.
type PlanStatus string

const (
	PlanDraft      PlanStatus = "draft"
	PlanActive     PlanStatus = "active"
	PlanMonitoring PlanStatus = "monitoring"
	PlanCompleted  PlanStatus = "completed"
	PlanClosed     PlanStatus = "closed"
	PlanArchived   PlanStatus = "archived"
)

// IsLive reports whether the engine evaluates plans in this status.
func (s PlanStatus) IsLive() bool {
	return s == PlanActive || s == PlanMonitoring
}

// IsTerminal reports whether the plan has finished its lifecycle.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanClosed || s == PlanArchived
}

// Valid reports whether s is a known status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanDraft, PlanActive, PlanMonitoring, PlanCompleted, PlanClosed, PlanArchived:
		return true
	}
	return false
}

// Scenario is one of the four probability-weighted outcomes of a plan.
// Price levels are optional; nil means "not set".
type Scenario struct {
	Type         ScenarioType `json:"type" yaml:"type"`
	Probability  int          `json:"probability" yaml:"probability"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerPrice *float64     `json:"trigger_price,omitempty" yaml:"trigger_price,omitempty"`
	EntryPrice   *float64     `json:"entry_price,omitempty" yaml:"entry_price,omitempty"`
	StopLoss     *float64     `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	Target1      *float64     `json:"target1,omitempty" yaml:"target1,omitempty"`
	Target2      *float64     `json:"target2,omitempty" yaml:"target2,omitempty"`
	Target3      *float64     `json:"target3,omitempty" yaml:"target3,omitempty"`
}

// HasTradeLevels reports whether entry, stop and first target are all present.
func (s Scenario) HasTradeLevels() bool {
	return HasLevel(s.EntryPrice) && HasLevel(s.StopLoss) && HasLevel(s.Target1)
}

// Plan is a battle card: a trade idea expressed as four scenarios.
type Plan struct {
	ID         string     `json:"id" yaml:"id"`
	Instrument string     `json:"instrument" yaml:"instrument"`
	Timeframe  string     `json:"timeframe" yaml:"timeframe"`
	Thesis     string     `json:"thesis" yaml:"thesis"`
	Status     PlanStatus `json:"status" yaml:"status"`
	Scenarios  []Scenario `json:"scenarios" yaml:"scenarios"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Scenario returns the scenario of the given type.
func (p *Plan) Scenario(t ScenarioType) (Scenario, bool) {
	for _, s := range p.Scenarios {
		if s.Type == t {
			return s, true
		}
	}
	return Scenario{}, false
}

// ProbabilitySum returns the sum of all scenario probabilities.
func (p *Plan) ProbabilitySum() int {
	sum := 0
	for _, s := range p.Scenarios {
		sum += s.Probability
	}
	return sum
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Scenarios = make([]Scenario, len(p.Scenarios))
	for i, s := range p.Scenarios {
		c.Scenarios[i] = s.clone()
	}
	return &c
}

func (s Scenario) clone() Scenario {
	c := s
	c.TriggerPrice = cloneLevel(s.TriggerPrice)
	c.EntryPrice = cloneLevel(s.EntryPrice)
	c.StopLoss = cloneLevel(s.StopLoss)
	c.Target1 = cloneLevel(s.Target1)
	c.Target2 = cloneLevel(s.Target2)
	c.Target3 = cloneLevel(s.Target3)
	return c
}

func cloneLevel(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}
