package cli

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"scenario-trader/internal/journal"
	"scenario-trader/internal/models"
)

const testPlanYAML = `plans:
  - instrument: BTCUSDT
    timeframe: 4h
    thesis: Range reclaim
    scenarios:
      - type: A
        probability: 50
        entry_price: 100
        stop_loss: 95
        target1: 110
        target2: 115
      - type: B
        probability: 25
      - type: C
        probability: 15
        trigger_price: 120
      - type: D
        probability: 10
        trigger_price: 90
`

func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `[engine]
default_position_size = 1000.0
leverage = 1.0

[store]
driver = "sqlite3"
dsn = "` + filepath.ToSlash(filepath.Join(dir, "trader.db")) + `"

[notifications]
enabled = false

[logging]
console = false
file = false
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plans.yaml"), []byte(testPlanYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := tryExecute(dir, args...)
	if err != nil {
		t.Fatalf("trader %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func tryExecute(dir string, args ...string) (string, error) {
	root := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", dir))
	err := root.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
}

func importPlan(t *testing.T, dir string) *models.Plan {
	t.Helper()
	var plans []*models.Plan
	decode(t, execute(t, dir, "plan", "import", filepath.Join(dir, "plans.yaml"), "--activate", "--json"), &plans)
	if len(plans) != 1 {
		t.Fatalf("imported %d plans, want 1", len(plans))
	}
	return plans[0]
}

func TestPlanImportListAndProb(t *testing.T) {
	dir := setupConfig(t)
	plan := importPlan(t, dir)
	if plan.Status != models.PlanActive || len(plan.Scenarios) != 4 {
		t.Fatalf("imported plan = %+v", plan)
	}

	var listed []*models.Plan
	decode(t, execute(t, dir, "plan", "list", "--status", "active", "--json"), &listed)
	if len(listed) != 1 || listed[0].ID != plan.ID {
		t.Fatalf("listed = %+v", listed)
	}

	var scenarios []models.Scenario
	decode(t, execute(t, dir, "plan", "prob", ShortID(plan.ID), "a", "70", "--json"), &scenarios)
	sum := 0
	for _, s := range scenarios {
		sum += s.Probability
	}
	if scenarios[0].Probability != 70 || sum != 100 {
		t.Errorf("rebalanced = %+v (sum %d)", scenarios, sum)
	}

	if _, err := tryExecute(dir, "plan", "prob", plan.ID, "E", "10"); err == nil {
		t.Error("expected error for unknown scenario")
	}

	exported := filepath.Join(dir, "export.yaml")
	execute(t, dir, "plan", "export", exported)
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), plan.ID) || !strings.Contains(string(data), "BTCUSDT") {
		t.Errorf("export missing plan:\n%s", data)
	}
}

type replayReport struct {
	Quotes        int                   `json:"quotes"`
	Notifications map[string]int        `json:"notifications"`
	Entries       []*models.LedgerEntry `json:"entries"`
	Summary       journal.Summary       `json:"summary"`
	Metrics       struct {
		Entries       uint64 `json:"entries"`
		OpenPositions int    `json:"open_positions"`
	} `json:"metrics"`
}

func TestReplayInMemoryLeavesStoreUntouched(t *testing.T) {
	dir := setupConfig(t)
	importPlan(t, dir)

	prices := writeFile(t, dir, "path.csv", strings.Join([]string{
		"symbol,price,ts",
		"BTCUSDT,98,2024-03-01T09:00:00Z",
		"BTCUSDT,99.5,2024-03-01T09:01:00Z",
		"BTCUSDT,100.1,2024-03-01T09:02:00Z",
		"BTCUSDT,105,2024-03-01T09:03:00Z",
		"BTCUSDT,110.5,2024-03-01T09:04:00Z",
	}, "\n"))

	var report replayReport
	decode(t, execute(t, dir, "replay", prices, "--json"), &report)

	if report.Quotes != 5 || report.Metrics.Entries != 1 || report.Metrics.OpenPositions != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Entries) != 1 || report.Entries[0].ExitReason != models.ExitTarget1Hit {
		t.Fatalf("entries = %+v", report.Entries)
	}
	if report.Entries[0].RealizedPnL <= 0 || report.Summary.Wins != 1 {
		t.Errorf("expected a winning trade, got %+v", report.Entries[0])
	}
	if report.Notifications["approach"] != 1 || report.Notifications["entry"] != 1 {
		t.Errorf("notifications = %v", report.Notifications)
	}

	var positions []*models.Position
	decode(t, execute(t, dir, "position", "list", "--status", "", "--json"), &positions)
	if len(positions) != 0 {
		t.Errorf("in-memory replay persisted %d positions", len(positions))
	}
}

func TestPersistedReplayCloseAndJournal(t *testing.T) {
	dir := setupConfig(t)
	plan := importPlan(t, dir)

	prices := writeFile(t, dir, "path.csv", "symbol,price,ts\nBTCUSDT,100,2024-03-01T09:00:00Z\nBTCUSDT,103,2024-03-01T09:05:00Z\n")
	execute(t, dir, "replay", prices, "--persist", "--json")

	var open []*models.Position
	decode(t, execute(t, dir, "position", "list", "--json"), &open)
	if len(open) != 1 || open[0].PlanID != plan.ID || open[0].Scenario != models.ScenarioA {
		t.Fatalf("open positions = %+v", open)
	}

	if _, err := tryExecute(dir, "plan", "archive", plan.ID); err == nil {
		t.Error("archive should refuse a plan with an open position")
	}
	if _, err := tryExecute(dir, "plan", "delete", plan.ID); err == nil {
		t.Error("delete without a price should refuse an open position")
	}

	var entry models.LedgerEntry
	decode(t, execute(t, dir, "position", "close", ShortID(plan.ID), "--price", "105", "--json"), &entry)
	if entry.ExitReason != models.ExitManual || entry.ActualScenario != models.ScenarioA {
		t.Fatalf("closed entry = %+v", entry)
	}
	if math.Abs(entry.RMultiple-1) > 1e-9 {
		t.Errorf("r multiple = %v, want 1", entry.RMultiple)
	}

	var shown struct {
		Plan *models.Plan `json:"plan"`
	}
	decode(t, execute(t, dir, "plan", "show", plan.ID, "--json"), &shown)
	if shown.Plan.Status != models.PlanClosed {
		t.Errorf("plan status = %s, want closed", shown.Plan.Status)
	}

	execute(t, dir, "journal", "note", ShortID(entry.ID), "Took", "it", "early")
	var withNote models.LedgerEntry
	decode(t, execute(t, dir, "journal", "show", entry.ID, "--json"), &withNote)
	if len(withNote.Notes) != 1 || withNote.Notes[0].Text != "Took it early" {
		t.Errorf("notes = %+v", withNote.Notes)
	}

	var summary journal.Summary
	decode(t, execute(t, dir, "journal", "report", "--plan", plan.ID, "--json"), &summary)
	if summary.Count != 1 || summary.ByExitReason[models.ExitManual] != 1 {
		t.Errorf("summary = %+v", summary)
	}

	csvPath := filepath.Join(dir, "journal.csv")
	execute(t, dir, "journal", "export", csvPath)
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "id,plan_id,instrument") {
		t.Errorf("csv = %q", data)
	}

	execute(t, dir, "plan", "activate", plan.ID)
	decode(t, execute(t, dir, "plan", "show", plan.ID, "--json"), &shown)
	if shown.Plan.Status != models.PlanActive {
		t.Errorf("re-armed status = %s", shown.Plan.Status)
	}

	execute(t, dir, "plan", "delete", plan.ID)
	if _, err := tryExecute(dir, "plan", "show", plan.ID); err == nil {
		t.Error("deleted plan still found")
	}
	var entries []*models.LedgerEntry
	decode(t, execute(t, dir, "journal", "list", "--json"), &entries)
	if len(entries) != 1 {
		t.Errorf("journal entries after delete = %d, want 1", len(entries))
	}
}

func TestConfigCommands(t *testing.T) {
	dir := setupConfig(t)

	var valid map[string]bool
	decode(t, execute(t, dir, "config", "validate", "--json"), &valid)
	if !valid["valid"] {
		t.Error("config should be valid")
	}

	out := execute(t, dir, "config", "path")
	if strings.TrimSpace(out) != filepath.Join(dir, "config.toml") {
		t.Errorf("path = %q", out)
	}

	var version map[string]string
	decode(t, execute(t, dir, "version", "--json"), &version)
	if version["version"] != Version {
		t.Errorf("version = %v", version)
	}
}
