package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on database/sql. The same schema and queries
// serve SQLite and Postgres; timestamps are stored as Unix nanoseconds so
// they round-trip exactly on both.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLiteStore creates a SQLite-backed store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return NewSQLStore(DriverSQLite, dbPath+sep+"_journal_mode=WAL&_busy_timeout=5000")
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	return NewSQLStore(DriverPostgres, dsn)
}

// NewSQLStore opens a database with the given driver and prepares the schema.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			timeframe TEXT NOT NULL DEFAULT '',
			thesis TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scenarios (
			plan_id TEXT NOT NULL,
			type TEXT NOT NULL,
			ord INTEGER NOT NULL,
			probability INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			trigger_price DOUBLE PRECISION,
			entry_price DOUBLE PRECISION,
			stop_loss DOUBLE PRECISION,
			target1 DOUBLE PRECISION,
			target2 DOUBLE PRECISION,
			target3 DOUBLE PRECISION,
			PRIMARY KEY (plan_id, type)
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			scenario TEXT NOT NULL,
			instrument TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			opened_at BIGINT NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			target1 DOUBLE PRECISION NOT NULL,
			target2 DOUBLE PRECISION,
			target3 DOUBLE PRECISION,
			status TEXT NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			exit_time BIGINT,
			exit_reason TEXT NOT NULL DEFAULT '',
			actual_scenario TEXT NOT NULL DEFAULT '',
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			r_multiple DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ledger (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			timeframe TEXT NOT NULL DEFAULT '',
			thesis TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			entry_scenario TEXT NOT NULL,
			actual_scenario TEXT NOT NULL,
			actual_probability INTEGER NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			target1 DOUBLE PRECISION NOT NULL,
			target2 DOUBLE PRECISION,
			target3 DOUBLE PRECISION,
			opened_at BIGINT NOT NULL,
			closed_at BIGINT NOT NULL,
			exit_reason TEXT NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			realized_pnl_percent DOUBLE PRECISION NOT NULL,
			r_multiple DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_notes (
			entry_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (entry_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_plan ON positions(plan_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_closed ON ledger(closed_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q execer, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q execer, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- plans ---

const planColumns = "id, instrument, timeframe, thesis, status, created_at, updated_at"

// SavePlan inserts or replaces a plan and its scenarios atomically.
func (s *SQLStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, `
			INSERT INTO plans (`+planColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				instrument = excluded.instrument,
				timeframe = excluded.timeframe,
				thesis = excluded.thesis,
				status = excluded.status,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`, plan.ID, plan.Instrument, plan.Timeframe, plan.Thesis, string(plan.Status),
			toNanos(plan.CreatedAt), toNanos(plan.UpdatedAt))
		if err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx, "DELETE FROM scenarios WHERE plan_id = ?", plan.ID); err != nil {
			return err
		}
		for i, sc := range plan.Scenarios {
			_, err := s.exec(ctx, tx, `
				INSERT INTO scenarios (plan_id, type, ord, probability, description, trigger_price, entry_price, stop_loss, target1, target2, target3)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, plan.ID, string(sc.Type), i, sc.Probability, sc.Description,
				nullFloat(sc.TriggerPrice), nullFloat(sc.EntryPrice), nullFloat(sc.StopLoss),
				nullFloat(sc.Target1), nullFloat(sc.Target2), nullFloat(sc.Target3))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewStoreError("save", "plan", plan.ID, fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	return nil
}

// GetPlan returns a plan by id.
func (s *SQLStore) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	plans, err := s.queryPlans(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, errors.NewStoreError("get", "plan", id, errors.ErrPlanNotFound)
	}
	return plans[0], nil
}

// ListPlans returns plans matching filter, newest first.
func (s *SQLStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*models.Plan, error) {
	query := "SELECT " + planColumns + " FROM plans WHERE 1=1"
	args := []interface{}{}

	if filter.Instrument != "" {
		query += " AND instrument = ?"
		args = append(args, filter.Instrument)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryPlans(ctx, query, args...)
}

// ListActivePlans returns all live plans, oldest first.
func (s *SQLStore) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	return s.queryPlans(ctx,
		"SELECT "+planColumns+" FROM plans WHERE status IN (?, ?) ORDER BY created_at ASC",
		string(models.PlanActive), string(models.PlanMonitoring))
}

func (s *SQLStore) queryPlans(ctx context.Context, query string, args ...interface{}) ([]*models.Plan, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}

	var plans []*models.Plan
	for rows.Next() {
		var (
			p                models.Plan
			status           string
			created, updated int64
		)
		if err := rows.Scan(&p.ID, &p.Instrument, &p.Timeframe, &p.Thesis, &status, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Status = models.PlanStatus(status)
		p.CreatedAt = fromNanos(created)
		p.UpdatedAt = fromNanos(updated)
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, p := range plans {
		scenarios, err := s.loadScenarios(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Scenarios = scenarios
	}
	return plans, nil
}

func (s *SQLStore) loadScenarios(ctx context.Context, planID string) ([]models.Scenario, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT type, probability, description, trigger_price, entry_price, stop_loss, target1, target2, target3
		FROM scenarios WHERE plan_id = ? ORDER BY ord
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := []models.Scenario{}
	for rows.Next() {
		var (
			sc                            models.Scenario
			typ                           string
			trig, entry, stop, t1, t2, t3 sql.NullFloat64
		)
		if err := rows.Scan(&typ, &sc.Probability, &sc.Description, &trig, &entry, &stop, &t1, &t2, &t3); err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		sc.Type = models.ScenarioType(typ)
		sc.TriggerPrice = fromNullFloat(trig)
		sc.EntryPrice = fromNullFloat(entry)
		sc.StopLoss = fromNullFloat(stop)
		sc.Target1 = fromNullFloat(t1)
		sc.Target2 = fromNullFloat(t2)
		sc.Target3 = fromNullFloat(t3)
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

// SetPlanStatus updates a plan's status.
func (s *SQLStore) SetPlanStatus(ctx context.Context, id string, status models.PlanStatus) error {
	res, err := s.exec(ctx, s.db, "UPDATE plans SET status = ?, updated_at = ? WHERE id = ?",
		string(status), toNanos(time.Now()), id)
	if err != nil {
		return errors.NewStoreError("set_status", "plan", id, fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStoreError("set_status", "plan", id, errors.ErrPlanNotFound)
	}
	return nil
}

// DeletePlan removes a plan and its scenarios.
func (s *SQLStore) DeletePlan(ctx context.Context, id string) error {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM scenarios WHERE plan_id = ?", id); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, "DELETE FROM plans WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return errors.NewStoreError("delete", "plan", id, fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	if affected == 0 {
		return errors.NewStoreError("delete", "plan", id, errors.ErrPlanNotFound)
	}
	return nil
}

// --- positions ---

const positionColumns = `id, plan_id, scenario, instrument, direction, entry_price, opened_at, size, leverage,
	stop_loss, target1, target2, target3, status, exit_price, exit_time, exit_reason, actual_scenario,
	realized_pnl, realized_pnl_percent, r_multiple`

// SavePosition inserts or replaces a position. A closed position cannot be
// modified.
func (s *SQLStore) SavePosition(ctx context.Context, pos *models.Position) error {
	var closed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := s.queryRow(ctx, tx, "SELECT status FROM positions WHERE id = ?", pos.ID).Scan(&status)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		case models.PositionStatus(status) == models.PositionClosed:
			closed = true
			return nil
		}

		var exitTime sql.NullInt64
		if pos.ExitTime != nil {
			exitTime = sql.NullInt64{Int64: toNanos(*pos.ExitTime), Valid: true}
		}

		_, err = s.exec(ctx, tx, `
			INSERT INTO positions (`+positionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				exit_price = excluded.exit_price,
				exit_time = excluded.exit_time,
				exit_reason = excluded.exit_reason,
				actual_scenario = excluded.actual_scenario,
				realized_pnl = excluded.realized_pnl,
				realized_pnl_percent = excluded.realized_pnl_percent,
				r_multiple = excluded.r_multiple
		`, pos.ID, pos.PlanID, string(pos.Scenario), pos.Instrument, string(pos.Direction),
			pos.EntryPrice, toNanos(pos.OpenedAt), pos.Size, pos.Leverage,
			pos.StopLoss, pos.Target1, nullFloat(pos.Target2), nullFloat(pos.Target3),
			string(pos.Status), pos.ExitPrice, exitTime, string(pos.ExitReason), string(pos.ActualScenario),
			pos.RealizedPnL, pos.RealizedPnLPercent, pos.RMultiple)
		return err
	})
	if err != nil {
		return errors.NewStoreError("save", "position", pos.ID, fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	if closed {
		return errors.NewStoreError("save", "position", pos.ID, errors.ErrPositionClosed)
	}
	return nil
}

// GetPosition returns a position by id.
func (s *SQLStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	positions, err := s.queryPositions(ctx, "SELECT "+positionColumns+" FROM positions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, errors.NewStoreError("get", "position", id, errors.ErrPositionNotFound)
	}
	return positions[0], nil
}

// ListPositions returns positions matching filter, newest first.
func (s *SQLStore) ListPositions(ctx context.Context, filter PositionFilter) ([]*models.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE 1=1"
	args := []interface{}{}

	if filter.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, filter.PlanID)
	}
	if filter.Instrument != "" {
		query += " AND instrument = ?"
		args = append(args, filter.Instrument)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY opened_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryPositions(ctx, query, args...)
}

// OpenPositions returns all open positions, oldest first.
func (s *SQLStore) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	return s.queryPositions(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE status = ? ORDER BY opened_at ASC",
		string(models.PositionOpen))
}

func (s *SQLStore) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		var (
			p                           models.Position
			scenario, direction, status string
			exitReason, actual          string
			opened                      int64
			exitTime                    sql.NullInt64
			t2, t3                      sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.PlanID, &scenario, &p.Instrument, &direction, &p.EntryPrice, &opened,
			&p.Size, &p.Leverage, &p.StopLoss, &p.Target1, &t2, &t3, &status, &p.ExitPrice, &exitTime,
			&exitReason, &actual, &p.RealizedPnL, &p.RealizedPnLPercent, &p.RMultiple); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Scenario = models.ScenarioType(scenario)
		p.Direction = models.Direction(direction)
		p.Status = models.PositionStatus(status)
		p.ExitReason = models.ExitReason(exitReason)
		p.ActualScenario = models.ScenarioType(actual)
		p.OpenedAt = fromNanos(opened)
		p.Target2 = fromNullFloat(t2)
		p.Target3 = fromNullFloat(t3)
		if exitTime.Valid {
			t := fromNanos(exitTime.Int64)
			p.ExitTime = &t
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// --- ledger ---

const ledgerColumns = `id, position_id, plan_id, instrument, timeframe, thesis, direction, entry_scenario,
	actual_scenario, actual_probability, entry_price, exit_price, size, leverage, stop_loss, target1,
	target2, target3, opened_at, closed_at, exit_reason, realized_pnl, realized_pnl_percent, r_multiple`

// Append adds a ledger entry and its notes. Existing ids are rejected.
func (s *SQLStore) Append(ctx context.Context, e *models.LedgerEntry) error {
	var exists bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := s.queryRow(ctx, tx, "SELECT COUNT(*) FROM ledger WHERE id = ?", e.ID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			exists = true
			return nil
		}

		_, err := s.exec(ctx, tx, `
			INSERT INTO ledger (`+ledgerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.PositionID, e.PlanID, e.Instrument, e.Timeframe, e.Thesis, string(e.Direction),
			string(e.EntryScenario), string(e.ActualScenario), e.ActualProbability, e.EntryPrice, e.ExitPrice,
			e.Size, e.Leverage, e.StopLoss, e.Target1, nullFloat(e.Target2), nullFloat(e.Target3),
			toNanos(e.OpenedAt), toNanos(e.ClosedAt), string(e.ExitReason), e.RealizedPnL,
			e.RealizedPnLPercent, e.RMultiple)
		if err != nil {
			return err
		}

		for i, note := range e.Notes {
			if err := s.insertNote(ctx, tx, e.ID, i, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewStoreError("append", "ledger", e.ID, fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	if exists {
		return errors.NewStoreError("append", "ledger", e.ID, errors.ErrLedgerEntryExists)
	}
	return nil
}

func (s *SQLStore) insertNote(ctx context.Context, tx *sql.Tx, entryID string, seq int, note models.Note) error {
	_, err := s.exec(ctx, tx, "INSERT INTO ledger_notes (entry_id, seq, text, created_at) VALUES (?, ?, ?, ?)",
		entryID, seq, note.Text, toNanos(note.CreatedAt))
	return err
}

// GetEntry returns a ledger entry by id.
func (s *SQLStore) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	entries, err := s.queryEntries(ctx, "SELECT "+ledgerColumns+" FROM ledger WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.NewStoreError("get", "ledger", id, errors.ErrLedgerEntryNotFound)
	}
	return entries[0], nil
}

// ListEntries returns ledger entries matching filter, newest first.
func (s *SQLStore) ListEntries(ctx context.Context, filter LedgerFilter) ([]*models.LedgerEntry, error) {
	query := "SELECT " + ledgerColumns + " FROM ledger WHERE 1=1"
	args := []interface{}{}

	if filter.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, filter.PlanID)
	}
	if filter.Instrument != "" {
		query += " AND instrument = ?"
		args = append(args, filter.Instrument)
	}
	if !filter.StartDate.IsZero() {
		query += " AND closed_at >= ?"
		args = append(args, toNanos(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND closed_at <= ?"
		args = append(args, toNanos(filter.EndDate))
	}

	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryEntries(ctx, query, args...)
}

func (s *SQLStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.LedgerEntry, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}

	var entries []*models.LedgerEntry
	for rows.Next() {
		var (
			e                                        models.LedgerEntry
			direction, entryScenario, actual, reason string
			opened, closed                           int64
			t2, t3                                   sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.PositionID, &e.PlanID, &e.Instrument, &e.Timeframe, &e.Thesis,
			&direction, &entryScenario, &actual, &e.ActualProbability, &e.EntryPrice, &e.ExitPrice,
			&e.Size, &e.Leverage, &e.StopLoss, &e.Target1, &t2, &t3, &opened, &closed, &reason,
			&e.RealizedPnL, &e.RealizedPnLPercent, &e.RMultiple); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Direction = models.Direction(direction)
		e.EntryScenario = models.ScenarioType(entryScenario)
		e.ActualScenario = models.ScenarioType(actual)
		e.ExitReason = models.ExitReason(reason)
		e.Target2 = fromNullFloat(t2)
		e.Target3 = fromNullFloat(t3)
		e.OpenedAt = fromNanos(opened)
		e.ClosedAt = fromNanos(closed)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, e := range entries {
		notes, err := s.loadNotes(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		e.Notes = notes
	}
	return entries, nil
}

func (s *SQLStore) loadNotes(ctx context.Context, entryID string) ([]models.Note, error) {
	rows, err := s.query(ctx, s.db, "SELECT text, created_at FROM ledger_notes WHERE entry_id = ? ORDER BY seq", entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		var (
			n       models.Note
			created int64
		)
		if err := rows.Scan(&n.Text, &created); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.CreatedAt = fromNanos(created)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// AddNote attaches a note to a ledger entry.
func (s *SQLStore) AddNote(ctx context.Context, entryID string, note models.Note) error {
	var missing bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := s.queryRow(ctx, tx, "SELECT COUNT(*) FROM ledger WHERE id = ?", entryID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			missing = true
			return nil
		}
		var seq int
		if err := s.queryRow(ctx, tx, "SELECT COUNT(*) FROM ledger_notes WHERE entry_id = ?", entryID).Scan(&seq); err != nil {
			return err
		}
		return s.insertNote(ctx, tx, entryID, seq, note)
	})
	if err != nil {
		return errors.NewStoreError("add_note", "ledger", entryID, fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	if missing {
		return errors.NewStoreError("add_note", "ledger", entryID, errors.ErrLedgerEntryNotFound)
	}
	return nil
}

// --- helpers ---

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return models.Float(n.Float64)
}
