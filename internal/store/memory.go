package store

import (
	"context"
	"sort"
	"sync"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

// MemoryStore implements Store with in-process maps. Values are copied on
// every read and write so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	plans     map[string]*models.Plan
	positions map[string]*models.Position
	entries   map[string]*models.LedgerEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:     make(map[string]*models.Plan),
		positions: make(map[string]*models.Position),
		entries:   make(map[string]*models.LedgerEntry),
	}
}

// SavePlan inserts or replaces a plan.
func (m *MemoryStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan.Clone()
	return nil
}

// GetPlan returns a plan by id.
func (m *MemoryStore) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, errors.NewStoreError("get", "plan", id, errors.ErrPlanNotFound)
	}
	return p.Clone(), nil
}

// ListPlans returns plans matching filter, newest first.
func (m *MemoryStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*models.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Plan
	for _, p := range m.plans {
		if filter.match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListActivePlans returns all live plans.
func (m *MemoryStore) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Plan
	for _, p := range m.plans {
		if p.Status.IsLive() {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetPlanStatus updates a plan's status.
func (m *MemoryStore) SetPlanStatus(ctx context.Context, id string, status models.PlanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return errors.NewStoreError("set_status", "plan", id, errors.ErrPlanNotFound)
	}
	p.Status = status
	return nil
}

// DeletePlan removes a plan.
func (m *MemoryStore) DeletePlan(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return errors.NewStoreError("delete", "plan", id, errors.ErrPlanNotFound)
	}
	delete(m.plans, id)
	return nil
}

// SavePosition inserts or replaces a position. A closed position cannot be
// modified.
func (m *MemoryStore) SavePosition(ctx context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.positions[pos.ID]; ok && !existing.IsOpen() {
		return errors.NewStoreError("save", "position", pos.ID, errors.ErrPositionClosed)
	}
	m.positions[pos.ID] = pos.Clone()
	return nil
}

// GetPosition returns a position by id.
func (m *MemoryStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, errors.NewStoreError("get", "position", id, errors.ErrPositionNotFound)
	}
	return p.Clone(), nil
}

// ListPositions returns positions matching filter, newest first.
func (m *MemoryStore) ListPositions(ctx context.Context, filter PositionFilter) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Position
	for _, p := range m.positions {
		if filter.match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// OpenPositions returns all open positions, oldest first.
func (m *MemoryStore) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Position
	for _, p := range m.positions {
		if p.IsOpen() {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Append adds a ledger entry.
func (m *MemoryStore) Append(ctx context.Context, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; ok {
		return errors.NewStoreError("append", "ledger", entry.ID, errors.ErrLedgerEntryExists)
	}
	m.entries[entry.ID] = entry.Clone()
	return nil
}

// GetEntry returns a ledger entry by id.
func (m *MemoryStore) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, errors.NewStoreError("get", "ledger", id, errors.ErrLedgerEntryNotFound)
	}
	return e.Clone(), nil
}

// ListEntries returns ledger entries matching filter, newest first.
func (m *MemoryStore) ListEntries(ctx context.Context, filter LedgerFilter) ([]*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if filter.match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AddNote attaches a note to a ledger entry.
func (m *MemoryStore) AddNote(ctx context.Context, entryID string, note models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return errors.NewStoreError("add_note", "ledger", entryID, errors.ErrLedgerEntryNotFound)
	}
	e.Notes = append(e.Notes, note)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
