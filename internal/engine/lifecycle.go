package engine

import (
	"context"
	"fmt"

	"scenario-trader/internal/config"
	"scenario-trader/internal/logging"
	"scenario-trader/internal/models"
	"scenario-trader/internal/notify"
	"scenario-trader/internal/risk"
	"scenario-trader/internal/scenario"
)

func (e *Engine) checkChaos(ctx context.Context, plan *models.Plan, q models.Quote) {
	if !scenario.ChaosActive(plan, q.Price) {
		return
	}
	if !e.actions.Fire(plan.ID, ChaosAdvised()) {
		return
	}
	e.notify(ctx, plan, models.ScenarioC, notify.KindChaos, notify.SeverityWarning,
		map[string]interface{}{"price": q.Price},
		"C playing out near %.2f, no-trade zone", q.Price)
}

func (e *Engine) checkEntry(ctx context.Context, cfg config.EngineConfig, st *planState, q models.Quote) {
	plan := st.plan
	if !plan.Status.IsLive() {
		return
	}

	evals := scenario.EvaluatePlan(plan, q.Price)
	for _, ev := range evals {
		if !ev.Tradable || !scenario.IsApproachAlert(ev) {
			continue
		}
		if e.actions.Fire(plan.ID, Approached(ev.Scenario)) {
			s, _ := plan.Scenario(ev.Scenario)
			e.notify(ctx, plan, ev.Scenario, notify.KindApproach, notify.SeverityInfo,
				map[string]interface{}{"price": q.Price, "entry": models.Level(s.EntryPrice), "distance_pct": ev.DistancePct},
				"Price %.2f approaching entry %.2f (%.2f%%)", q.Price, models.Level(s.EntryPrice), ev.DistancePct)
		}
	}

	pick, ok := scenario.PickEntry(evals)
	if !ok {
		return
	}
	s, _ := plan.Scenario(pick.Scenario)

	if !cfg.AutoExecuteOnTrigger {
		if e.actions.Fire(plan.ID, Triggered(pick.Scenario)) {
			e.notify(ctx, plan, pick.Scenario, notify.KindTrigger, notify.SeverityWarning,
				map[string]interface{}{"price": q.Price, "entry": models.Level(s.EntryPrice)},
				"Entry zone reached at %.2f, auto-execute is off", q.Price)
		}
		return
	}

	dir, err := scenario.Direction(s)
	if err != nil {
		logger := logging.WithPlan(e.logger, plan.ID)
		logger.Debug().Err(err).Msg("Scenario not tradable")
		return
	}
	if !e.actions.Fire(plan.ID, Entered(pick.Scenario)) {
		return
	}

	leverage := cfg.Leverage
	if leverage < 1 {
		leverage = 1
	}
	now := e.now()
	pos := &models.Position{
		ID:         e.newID(),
		PlanID:     plan.ID,
		Scenario:   pick.Scenario,
		Instrument: plan.Instrument,
		Direction:  dir,
		EntryPrice: q.Price,
		OpenedAt:   now,
		Size:       cfg.DefaultPositionSize,
		Leverage:   leverage,
		StopLoss:   *s.StopLoss,
		Target1:    *s.Target1,
		Target2:    copyLevel(s.Target2),
		Target3:    copyLevel(s.Target3),
		Status:     models.PositionOpen,
	}

	st.position = pos
	plan.Status = models.PlanMonitoring
	plan.UpdatedAt = now
	e.actions.ResetExits(plan.ID)

	logger := logging.WithPlan(e.logger, plan.ID)
	if err := e.positions.SavePosition(ctx, pos.Clone()); err != nil {
		logger.Error().Err(err).Str("position_id", pos.ID).Msg("Failed to persist position")
	}
	if err := e.plans.SetPlanStatus(ctx, plan.ID, models.PlanMonitoring); err != nil {
		logger.Error().Err(err).Msg("Failed to persist plan status")
	}

	e.count(func(m *Metrics) { m.Entries++ })
	logging.LogEntry(e.logger, plan.ID, string(pos.Scenario), string(pos.Direction), pos.EntryPrice, pos.Size)
	e.notify(ctx, plan, pos.Scenario, notify.KindEntry, notify.SeverityInfo,
		map[string]interface{}{"price": pos.EntryPrice, "direction": string(dir), "size": pos.Size, "leverage": pos.Leverage},
		"Opened %s at %.2f (stop %.2f, target %.2f)", dir, pos.EntryPrice, pos.StopLoss, pos.Target1)
}

// checkExit applies at most one closing action, in priority order:
// invalidation, stop, target 1.
func (e *Engine) checkExit(ctx context.Context, cfg config.EngineConfig, st *planState, q models.Quote) {
	plan := st.plan
	pos := st.position
	price := q.Price

	if pos.Scenario != models.ScenarioD {
		if level, ok := scenario.InvalidationLevel(plan); ok && scenario.Invalidated(level, pos.Direction, price) {
			e.closeLocked(ctx, st, price, models.ExitInvalidation, models.ScenarioD, models.PlanClosed)
			return
		}
	}

	if stopHit(pos, price) {
		if cfg.AutoExitOnStop {
			e.closeLocked(ctx, st, price, models.ExitStopHit, models.ScenarioD, models.PlanClosed)
			return
		}
		e.levelReached(ctx, plan, pos, models.ExitStopHit, notify.KindStop, notify.SeverityWarning, pos.StopLoss, price)
		return
	}

	if targetHit(pos, pos.Target1, price) {
		if cfg.AutoExitOnTarget {
			e.closeLocked(ctx, st, price, models.ExitTarget1Hit, pos.Scenario, models.PlanCompleted)
			return
		}
		e.levelReached(ctx, plan, pos, models.ExitTarget1Hit, notify.KindTarget, notify.SeverityInfo, pos.Target1, price)
	}

	if models.HasLevel(pos.Target2) && targetHit(pos, *pos.Target2, price) {
		e.levelReached(ctx, plan, pos, models.ExitTarget2Hit, notify.KindTarget, notify.SeverityInfo, *pos.Target2, price)
	}
	if models.HasLevel(pos.Target3) && targetHit(pos, *pos.Target3, price) {
		e.levelReached(ctx, plan, pos, models.ExitTarget3Hit, notify.KindTarget, notify.SeverityInfo, *pos.Target3, price)
	}
}

func (e *Engine) levelReached(ctx context.Context, plan *models.Plan, pos *models.Position, reason models.ExitReason,
	kind notify.Kind, sev notify.Severity, level, price float64) {
	if !e.actions.Fire(plan.ID, LevelReached(reason)) {
		return
	}
	res := risk.CalcPosition(pos, price)
	e.notify(ctx, plan, pos.Scenario, kind, sev,
		map[string]interface{}{"price": price, "level": level, "reason": string(reason), "unrealized_pnl": res.PnL},
		"%s reached at %.2f (level %.2f), position still open", reason, price, level)
}

// ClosePosition closes the plan's open position at the last known price.
// It returns false when there is no open position or no price.
func (e *Engine) ClosePosition(ctx context.Context, planID string) (*models.LedgerEntry, bool) {
	st := e.state(planID)
	if st == nil {
		return nil, false
	}
	q, ok := e.quote(e.instrument(st))
	if !ok {
		return nil, false
	}
	return e.ClosePositionAt(ctx, planID, q.Price)
}

// ClosePositionAt closes the plan's open position manually at price. The
// plan moves to closed and the entry scenario is recorded as realized.
func (e *Engine) ClosePositionAt(ctx context.Context, planID string, price float64) (*models.LedgerEntry, bool) {
	if price <= 0 {
		return nil, false
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	st := e.state(planID)
	if st == nil {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.position == nil {
		return nil, false
	}
	entry := e.closeLocked(ctx, st, price, models.ExitManual, st.position.Scenario, models.PlanClosed)
	return entry, entry != nil
}

// closeLocked closes st.position. Caller holds st.mu.
func (e *Engine) closeLocked(ctx context.Context, st *planState, price float64, reason models.ExitReason,
	actual models.ScenarioType, status models.PlanStatus) *models.LedgerEntry {
	plan := st.plan
	pos := st.position
	if pos == nil || !pos.IsOpen() {
		return nil
	}
	if e.closedElsewhere(ctx, st) {
		return nil
	}
	if !e.actions.Fire(plan.ID, Exited(reason)) {
		return nil
	}

	now := e.now()
	res := risk.CalcPosition(pos, price)

	closed := pos.Clone()
	closed.Status = models.PositionClosed
	closed.ExitPrice = price
	closed.ExitTime = &now
	closed.ExitReason = reason
	closed.ActualScenario = actual
	closed.RealizedPnL = res.PnL
	closed.RealizedPnLPercent = res.PnLPercent
	closed.RMultiple = res.RMultiple

	entry := models.NewLedgerEntry(e.newID(), closed, plan)

	st.position = nil
	plan.Status = status
	plan.UpdatedAt = now

	logger := logging.WithPlan(e.logger, plan.ID)
	if err := e.positions.SavePosition(ctx, closed); err != nil {
		logger.Error().Err(err).Str("position_id", closed.ID).Msg("Failed to persist closed position")
	}
	if err := e.ledger.Append(ctx, entry.Clone()); err != nil {
		logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to append ledger entry")
	}
	if err := e.plans.SetPlanStatus(ctx, plan.ID, status); err != nil {
		logger.Error().Err(err).Msg("Failed to persist plan status")
	}

	e.count(func(m *Metrics) { m.Exits[reason]++ })
	logging.LogExit(e.logger, plan.ID, string(reason), price, res.PnL, res.RMultiple)

	kind, sev := exitNotification(reason)
	e.notify(ctx, plan, closed.Scenario, kind, sev,
		map[string]interface{}{
			"price":        price,
			"reason":       string(reason),
			"pnl":          res.PnL,
			"pnl_percent":  res.PnLPercent,
			"r_multiple":   res.RMultiple,
			"actual":       string(actual),
			"ledger_entry": entry.ID,
		},
		"Closed %s at %.2f (%s): pnl %.2f (%.2f%%), %.2fR", closed.Direction, price, reason, res.PnL, res.PnLPercent, res.RMultiple)
	return entry
}

// closedElsewhere reports whether the store already holds st.position as
// closed, and if so replaces st with the stored plan. Caller holds st.mu.
func (e *Engine) closedElsewhere(ctx context.Context, st *planState) bool {
	stored, err := e.positions.GetPosition(ctx, st.position.ID)
	if err != nil || stored.IsOpen() {
		return false
	}
	logger := logging.WithPlan(e.logger, st.plan.ID)
	logger.Info().Str("position_id", stored.ID).Str("reason", string(stored.ExitReason)).Msg("Position already closed in the store")
	st.position = nil
	if plan, err := e.plans.GetPlan(ctx, st.plan.ID); err == nil {
		st.plan = plan
	}
	return true
}

func exitNotification(reason models.ExitReason) (notify.Kind, notify.Severity) {
	switch reason {
	case models.ExitInvalidation:
		return notify.KindInvalidation, notify.SeverityCritical
	case models.ExitStopHit:
		return notify.KindStop, notify.SeverityWarning
	case models.ExitManual:
		return notify.KindManual, notify.SeverityInfo
	default:
		return notify.KindTarget, notify.SeverityInfo
	}
}

func (e *Engine) notify(ctx context.Context, plan *models.Plan, t models.ScenarioType, kind notify.Kind,
	sev notify.Severity, data map[string]interface{}, format string, args ...interface{}) {
	n := notify.Notification{
		PlanID:     plan.ID,
		Instrument: plan.Instrument,
		Scenario:   t,
		Kind:       kind,
		Severity:   sev,
		Message:    fmt.Sprintf(format, args...),
		Data:       data,
		Timestamp:  e.now(),
	}
	if err := e.notifier.Send(ctx, n); err != nil {
		logger := logging.WithPlan(e.logger, plan.ID)
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("Notification failed")
	}
}

func (e *Engine) instrument(st *planState) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.plan.Instrument
}

func stopHit(pos *models.Position, price float64) bool {
	if pos.Direction == models.Short {
		return price >= pos.StopLoss
	}
	return price <= pos.StopLoss
}

func targetHit(pos *models.Position, level, price float64) bool {
	if pos.Direction == models.Short {
		return price <= level
	}
	return price >= level
}

func copyLevel(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return models.Float(*p)
}
