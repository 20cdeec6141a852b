// Package engine runs battle cards against live quotes: it opens and closes
// simulated positions, writes the ledger and emits advisories.
package engine

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"scenario-trader/internal/config"
	"scenario-trader/internal/errors"
	"scenario-trader/internal/logging"
	"scenario-trader/internal/models"
	"scenario-trader/internal/notify"
	"scenario-trader/internal/store"
)

// SettingsSource supplies the engine configuration. It is read once per tick
// so edits apply from the next tick on.
type SettingsSource interface {
	Engine() config.EngineConfig
}

// Engine evaluates every live plan on each price update.
type Engine struct {
	plans     store.PlanRepository
	positions store.PositionRepository
	ledger    store.Ledger
	settings  SettingsSource
	notifier  notify.Notifier
	logger    zerolog.Logger
	actions   *ActionSet

	mu     sync.RWMutex
	states map[string]*planState
	prices map[string]models.Quote

	// serializes ticks, store refreshes and transitions requested from
	// outside a tick
	tickMu      sync.Mutex
	queue       chan models.Quote
	lastRefresh time.Time
	reported    map[string]struct{}

	metricsMu sync.Mutex
	metrics   Metrics

	now   func() time.Time
	newID func() string
}

// planState is the in-memory view of one plan. mu serializes every
// transition on the plan.
type planState struct {
	mu       sync.Mutex
	plan     *models.Plan
	position *models.Position
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how position and ledger ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine. Call Load before feeding prices to resume state
// from the store.
func New(
	plans store.PlanRepository,
	positions store.PositionRepository,
	ledger store.Ledger,
	settings SettingsSource,
	notifier notify.Notifier,
	logger zerolog.Logger,
	opts ...Option,
) *Engine {
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}
	queueSize := settings.Engine().QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Engine{
		plans:     plans,
		positions: positions,
		ledger:    ledger,
		settings:  settings,
		notifier:  notifier,
		logger:    logging.WithOperation(logger, "engine"),
		actions:   NewActionSet(),
		states:    make(map[string]*planState),
		prices:    make(map[string]models.Quote),
		queue:     make(chan models.Quote, queueSize),
		reported:  make(map[string]struct{}),
		metrics:   Metrics{Exits: make(map[models.ExitReason]uint64)},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load rebuilds the plan index, the open positions and the Entered keys
// from the store. When a plan has more than one open position the earliest
// is kept and the others are ignored.
func (e *Engine) Load(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	plans, open, err := e.refresh(ctx)
	if err != nil {
		return err
	}
	e.lastRefresh = time.Now()
	e.logger.Info().Int("plans", plans).Int("open_positions", open).Msg("Engine state loaded")
	return nil
}

// refresh merges the store's live plans and open positions into the index.
// The store wins: a position it reports closed is dropped, an open position
// the index lacks is adopted, and plans that are no longer live are removed
// along with their action keys. Caller holds tickMu.
func (e *Engine) refresh(ctx context.Context) (int, int, error) {
	plans, err := e.plans.ListActivePlans(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "loading active plans")
	}
	open, err := e.positions.OpenPositions(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "loading open positions")
	}

	live := make(map[string]*models.Plan, len(plans))
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		live[p.ID] = p
		ids = append(ids, p.ID)
	}

	// OpenPositions is ordered oldest first.
	held := make(map[string]*models.Position, len(open))
	for _, pos := range open {
		if _, ok := live[pos.PlanID]; !ok {
			plan, err := e.plans.GetPlan(ctx, pos.PlanID)
			if errors.Is(err, errors.ErrPlanNotFound) {
				if e.firstReport(pos.ID) {
					e.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Open position without plan ignored")
				}
				continue
			}
			if err != nil {
				return 0, 0, errors.Wrapf(err, "loading plan of position %s", pos.ID)
			}
			live[plan.ID] = plan
			ids = append(ids, plan.ID)
		}
		if kept, dup := held[pos.PlanID]; dup {
			if e.firstReport(pos.ID) {
				e.violation(errors.NewInvariantError("single_open_position", pos.PlanID,
					fmt.Sprintf("position %s ignored, %s already open", pos.ID, kept.ID)))
			}
			continue
		}
		held[pos.PlanID] = pos
	}

	// e.states only changes under tickMu, so the copy stays current while
	// the plans are merged without holding e.mu.
	e.mu.RLock()
	current := make(map[string]*planState, len(e.states))
	for id, st := range e.states {
		current[id] = st
	}
	e.mu.RUnlock()

	states := make(map[string]*planState, len(live))
	for _, id := range ids {
		st, ok := current[id]
		if !ok {
			st = &planState{}
		}
		st.mu.Lock()
		e.merge(st, live[id], held[id])
		st.mu.Unlock()
		states[id] = st
	}
	for id, st := range current {
		if _, ok := states[id]; ok {
			continue
		}
		st.mu.Lock()
		if st.position != nil {
			logger := logging.WithPlan(e.logger, id)
			logger.Info().Str("position_id", st.position.ID).Msg("Position closed outside the engine")
		}
		st.position = nil
		st.mu.Unlock()
	}

	e.actions.Retain(ids)
	e.mu.Lock()
	e.states = states
	e.mu.Unlock()
	return len(states), len(held), nil
}

// merge replaces st with the stored plan and position. Caller holds st.mu.
func (e *Engine) merge(st *planState, stored *models.Plan, pos *models.Position) {
	if st.plan != nil && !st.plan.Status.IsLive() && st.position == nil && pos == nil {
		// re-armed outside the engine
		e.actions.Forget(stored.ID)
	}
	st.plan = stored

	if st.position != nil && (pos == nil || pos.ID != st.position.ID) {
		logger := logging.WithPlan(e.logger, stored.ID)
		logger.Info().Str("position_id", st.position.ID).Msg("Position closed outside the engine")
		st.position = nil
	}
	if st.position == nil && pos != nil {
		st.position = pos
		e.actions.ResetExits(stored.ID)
		e.actions.Fire(stored.ID, Entered(pos.Scenario))
	}
}

// firstReport reports whether a store anomaly on id is seen for the first
// time. Caller holds tickMu.
func (e *Engine) firstReport(id string) bool {
	if _, seen := e.reported[id]; seen {
		return false
	}
	e.reported[id] = struct{}{}
	return true
}

// UpsertPlan adds or replaces a plan in the index. An open position on the
// plan is kept. The next store refresh replaces the plan with the stored
// copy, so callers save it first.
func (e *Engine) UpsertPlan(plan *models.Plan) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.upsert(plan)
}

func (e *Engine) upsert(plan *models.Plan) {
	c := plan.Clone()

	e.mu.Lock()
	st, ok := e.states[c.ID]
	if !ok {
		e.states[c.ID] = &planState{plan: c}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	st.mu.Lock()
	st.plan = c
	st.mu.Unlock()
}

// RemovePlan drops a plan from the index and forgets its action keys. An
// open position is closed manually at the last known price first; without
// a price the plan is kept and ErrNoPrice is returned. The stored plan is
// left alone; while it stays live there a later refresh indexes it again.
func (e *Engine) RemovePlan(ctx context.Context, id string) (*models.LedgerEntry, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	st := e.state(id)
	if st == nil {
		return nil, errors.NewStoreError("remove", "plan", id, errors.ErrPlanNotFound)
	}

	st.mu.Lock()
	var entry *models.LedgerEntry
	if st.position != nil {
		q, ok := e.quote(st.plan.Instrument)
		if !ok {
			st.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", errors.ErrNoPrice, st.plan.Instrument)
		}
		entry = e.closeLocked(ctx, st, q.Price, models.ExitManual, st.position.Scenario, models.PlanClosed)
	}
	st.mu.Unlock()

	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
	e.actions.Forget(id)
	return entry, nil
}

// ResetPlan clears every action key of a plan and makes it active again.
// Plans with an open position cannot be reset.
func (e *Engine) ResetPlan(ctx context.Context, id string) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	st := e.state(id)
	if st == nil {
		plan, err := e.plans.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		e.upsert(plan)
		st = e.state(id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.position != nil {
		return errors.NewStoreError("reset", "plan", id, errors.ErrPositionExists)
	}

	e.actions.Forget(id)
	st.plan.Status = models.PlanActive
	st.plan.UpdatedAt = e.now()
	if err := e.plans.SetPlanStatus(ctx, id, models.PlanActive); err != nil {
		return err
	}
	logger := logging.WithPlan(e.logger, id)
	logger.Info().Msg("Plan reset")
	return nil
}

// OnPriceUpdate records the quote and runs one evaluation pass over every
// live plan.
func (e *Engine) OnPriceUpdate(ctx context.Context, q models.Quote) error {
	if q.Symbol == "" {
		return errors.NewValidationError("symbol", q.Symbol, "required")
	}
	if q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		return errors.NewValidationError("price", q.Price, "must be a positive number")
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = e.now()
	}

	e.mu.Lock()
	e.prices[q.Symbol] = q
	e.mu.Unlock()

	e.tick(ctx)
	return nil
}

func (e *Engine) tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	cfg := e.settings.Engine()

	if now := time.Now(); now.Sub(e.lastRefresh) >= cfg.RefreshInterval {
		if _, _, err := e.refresh(ctx); err != nil {
			e.count(func(m *Metrics) { m.RefreshFailures++ })
			e.logger.Warn().Err(err).Msg("Store refresh failed, evaluating the current index")
		} else {
			e.lastRefresh = now
		}
	}

	e.mu.RLock()
	states := make([]*planState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, st := range states {
		st := st
		p.Go(func() {
			e.evaluate(ctx, cfg, st)
		})
	}
	p.Wait()

	e.count(func(m *Metrics) { m.TicksProcessed++ })
}

func (e *Engine) evaluate(ctx context.Context, cfg config.EngineConfig, st *planState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	plan := st.plan
	if !plan.Status.IsLive() && st.position == nil {
		return
	}

	q, ok := e.quote(plan.Instrument)
	if !ok {
		e.count(func(m *Metrics) { m.SkippedNoPrice++ })
		logger := logging.WithInstrument(logging.WithPlan(e.logger, plan.ID), plan.Instrument)
		logger.Debug().Msg("No price, plan skipped")
		return
	}

	e.checkChaos(ctx, plan, q)

	if st.position != nil {
		e.checkExit(ctx, cfg, st, q)
		return
	}
	e.checkEntry(ctx, cfg, st, q)
}

// OnTick queues a quote for Run. Quotes are dropped when the queue is full.
func (e *Engine) OnTick(q models.Quote) {
	select {
	case e.queue <- q:
	default:
		e.count(func(m *Metrics) { m.TicksDropped++ })
	}
}

// Symbols returns the instruments of the indexed plans.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	states := make([]*planState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, st := range states {
		st.mu.Lock()
		inst := st.plan.Instrument
		relevant := st.plan.Status.IsLive() || st.position != nil
		st.mu.Unlock()
		if _, dup := seen[inst]; dup || !relevant {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// Run processes queued quotes until ctx is done. The in-flight tick
// completes with an uncancelled context so its writes are not lost, and the
// notifier is flushed before returning.
func (e *Engine) Run(ctx context.Context) error {
	tickCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			e.flushNotifier()
			return nil
		case q := <-e.queue:
			if err := e.OnPriceUpdate(tickCtx, q); err != nil {
				e.logger.Debug().Err(err).Str("symbol", q.Symbol).Msg("Quote rejected")
			}
		}
	}
}

type flusher interface {
	Flush(ctx context.Context) error
}

func (e *Engine) flushNotifier() {
	f, ok := e.notifier.(flusher)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Notifier flush incomplete")
	}
}

func (e *Engine) state(id string) *planState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.states[id]
}

func (e *Engine) quote(symbol string) (models.Quote, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.prices[symbol]
	return q, ok
}

// LastPrice returns the last quote recorded for symbol.
func (e *Engine) LastPrice(symbol string) (models.Quote, bool) {
	return e.quote(symbol)
}

func (e *Engine) violation(err *errors.InvariantError) {
	e.count(func(m *Metrics) { m.InvariantViolations++ })
	e.logger.Error().Err(err).Str("plan_id", err.PlanID).Msg("Invariant violation")
}
