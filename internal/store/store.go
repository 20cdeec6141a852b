// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"scenario-trader/internal/models"
)

// PlanRepository persists battle cards.
type PlanRepository interface {
	SavePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*models.Plan, error)
	// ListActivePlans returns plans the engine evaluates (active or monitoring).
	ListActivePlans(ctx context.Context) ([]*models.Plan, error)
	SetPlanStatus(ctx context.Context, id string, status models.PlanStatus) error
	DeletePlan(ctx context.Context, id string) error
}

// PositionRepository persists simulated positions.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *models.Position) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]*models.Position, error)
	OpenPositions(ctx context.Context) ([]*models.Position, error)
}

// Ledger is the append-only journal of closed positions.
type Ledger interface {
	// Append records a new entry. Existing ids are rejected.
	Append(ctx context.Context, entry *models.LedgerEntry) error
	GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, filter LedgerFilter) ([]*models.LedgerEntry, error)
	// AddNote attaches a free-text note; the only mutation allowed on an entry.
	AddNote(ctx context.Context, entryID string, note models.Note) error
}

// Store composes all repositories.
type Store interface {
	PlanRepository
	PositionRepository
	Ledger
	Close() error
}

// PlanFilter represents filters for querying plans.
type PlanFilter struct {
	Instrument string
	Status     models.PlanStatus
	Limit      int
}

// PositionFilter represents filters for querying positions.
type PositionFilter struct {
	PlanID     string
	Instrument string
	Status     models.PositionStatus
	Limit      int
}

// LedgerFilter represents filters for querying ledger entries.
type LedgerFilter struct {
	PlanID     string
	Instrument string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

func (f PlanFilter) match(p *models.Plan) bool {
	if f.Instrument != "" && p.Instrument != f.Instrument {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

func (f PositionFilter) match(p *models.Position) bool {
	if f.PlanID != "" && p.PlanID != f.PlanID {
		return false
	}
	if f.Instrument != "" && p.Instrument != f.Instrument {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

func (f LedgerFilter) match(e *models.LedgerEntry) bool {
	if f.PlanID != "" && e.PlanID != f.PlanID {
		return false
	}
	if f.Instrument != "" && e.Instrument != f.Instrument {
		return false
	}
	if !f.StartDate.IsZero() && e.ClosedAt.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && e.ClosedAt.After(f.EndDate) {
		return false
	}
	return true
}
