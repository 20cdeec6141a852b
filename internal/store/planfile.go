package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"scenario-trader/internal/models"
)

// planDocument is the on-disk battle-card format. A document holds either a
// single plan at the top level or a list under "plans".
type planDocument struct {
	models.Plan `yaml:",inline"`
	Plans       []*models.Plan `yaml:"plans,omitempty"`
}

// LoadPlanFile reads battle cards from a YAML file.
func LoadPlanFile(path string) ([]*models.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan file: %w", err)
	}
	defer f.Close()
	return DecodePlans(f)
}

// DecodePlans reads every YAML document in r. Plans without an id get a new
// one, missing statuses default to draft, and scenarios are put in A..D order
// with absent slots added at probability 0.
func DecodePlans(r io.Reader) ([]*models.Plan, error) {
	dec := yaml.NewDecoder(r)
	now := time.Now().UTC()

	var plans []*models.Plan
	for {
		var doc planDocument
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding plan file: %w", err)
		}

		if len(doc.Plans) > 0 {
			plans = append(plans, doc.Plans...)
		} else if doc.Instrument != "" || len(doc.Scenarios) > 0 {
			p := doc.Plan
			plans = append(plans, &p)
		}
	}

	for _, p := range plans {
		normalizePlan(p, now)
	}
	return plans, nil
}

// EncodePlans writes plans as a single YAML document.
func EncodePlans(w io.Writer, plans []*models.Plan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Plans []*models.Plan `yaml:"plans"`
	}{plans}); err != nil {
		return fmt.Errorf("encoding plans: %w", err)
	}
	return enc.Close()
}

func normalizePlan(p *models.Plan, now time.Time) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PlanDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	present := make(map[models.ScenarioType]bool, len(p.Scenarios))
	for _, s := range p.Scenarios {
		present[s.Type] = true
	}
	for _, t := range models.ScenarioTypes {
		if !present[t] {
			p.Scenarios = append(p.Scenarios, models.Scenario{Type: t})
		}
	}
	sort.SliceStable(p.Scenarios, func(i, j int) bool {
		return scenarioRank(p.Scenarios[i].Type) < scenarioRank(p.Scenarios[j].Type)
	})
}

func scenarioRank(t models.ScenarioType) int {
	for i, st := range models.ScenarioTypes {
		if st == t {
			return i
		}
	}
	return len(models.ScenarioTypes)
}
