package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/journal"
	"scenario-trader/internal/models"
	"scenario-trader/internal/store"
	"scenario-trader/pkg/utils"
)

// addJournalCommands adds journal commands.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Journal of closed positions",
		Long:  "Review, annotate and analyze closed positions.",
	}

	cmd.AddCommand(newJournalListCmd(app))
	cmd.AddCommand(newJournalShowCmd(app))
	cmd.AddCommand(newJournalNoteCmd(app))
	cmd.AddCommand(newJournalReportCmd(app))
	cmd.AddCommand(newJournalExportCmd(app))

	rootCmd.AddCommand(cmd)
}

func newJournalListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			entries, err := loadJournal(ctx, cmd, app)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Info("No journal entries found.")
				output.Dim("Tip: entries are recorded when the engine closes a position.")
				return nil
			}
			renderJournalTable(output, entries)
			return nil
		},
	}
	addJournalFilterFlags(cmd)
	return cmd
}

func newJournalShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s, err := app.Store()
			if err != nil {
				return err
			}
			e, err := findEntry(ctx, s, args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(e)
			}
			displayEntry(output, e)
			return nil
		},
	}
}

func newJournalNoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "note <entry-id> <text>",
		Short:   "Attach a note to a journal entry",
		Example: `  trader journal note 9b1c2d3e "Entered early, B played out instead"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return errors.NewValidationError("note", text, "required")
			}

			s, err := app.Store()
			if err != nil {
				return err
			}
			e, err := findEntry(ctx, s, args[0])
			if err != nil {
				return err
			}
			note := models.Note{Text: text, CreatedAt: time.Now().UTC()}
			if err := s.AddNote(ctx, e.ID, note); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(note)
			}
			output.Success("Note added to %s", ShortID(e.ID))
			return nil
		},
	}
}

func newJournalReportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Performance report over the journal",
		Long: `Summarize closed positions: win rate, P&L, R-multiples, drawdown, and
how often the entered scenario was the one that played out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			entries, err := loadJournal(ctx, cmd, app)
			if err != nil {
				return err
			}
			summary := journal.Summarize(entries)

			if output.IsJSON() {
				return output.JSON(summary)
			}
			renderSummary(output, summary)
			return nil
		},
	}
	addJournalFilterFlags(cmd)
	return cmd
}

func newJournalExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file.csv]",
		Short: "Export journal entries as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			entries, err := loadJournal(ctx, cmd, app)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return journal.WriteCSV(w, entries)
		},
	}
	addJournalFilterFlags(cmd)
	return cmd
}

func addJournalFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("plan", "", "filter by plan id")
	cmd.Flags().String("instrument", "", "filter by instrument")
	cmd.Flags().String("since", "", "entries closed on or after date (YYYY-MM-DD)")
	cmd.Flags().String("until", "", "entries closed before the end of date (YYYY-MM-DD)")
	cmd.Flags().Int("days", 0, "entries closed in the last N days")
	cmd.Flags().Int("limit", 0, "maximum number of entries")
}

func loadJournal(ctx context.Context, cmd *cobra.Command, app *App) ([]*models.LedgerEntry, error) {
	planID, _ := cmd.Flags().GetString("plan")
	instrument, _ := cmd.Flags().GetString("instrument")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	days, _ := cmd.Flags().GetInt("days")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := app.Store()
	if err != nil {
		return nil, err
	}

	f := journal.Filter{Instrument: strings.ToUpper(instrument), Limit: limit}
	if planID != "" {
		plan, err := findPlan(ctx, s, planID)
		if err != nil {
			// Entries outlive deleted plans.
			if !errors.Is(err, errors.ErrPlanNotFound) {
				return nil, err
			}
			f.PlanID = planID
		} else {
			f.PlanID = plan.ID
		}
	}
	if since != "" {
		t, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return nil, errors.NewValidationError("since", since, "expected YYYY-MM-DD")
		}
		f.Since = t
	}
	if until != "" {
		t, err := time.ParseInLocation("2006-01-02", until, time.Local)
		if err != nil {
			return nil, errors.NewValidationError("until", until, "expected YYYY-MM-DD")
		}
		f.Until = t.Add(24*time.Hour - time.Nanosecond)
	}
	if days > 0 {
		f.Since = time.Now().AddDate(0, 0, -days)
	}
	return journal.Load(ctx, s, f)
}

// findEntry resolves a full id or a unique id prefix.
func findEntry(ctx context.Context, s store.Ledger, id string) (*models.LedgerEntry, error) {
	e, err := s.GetEntry(ctx, id)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, errors.ErrLedgerEntryNotFound) {
		return nil, err
	}

	all, err := s.ListEntries(ctx, store.LedgerFilter{})
	if err != nil {
		return nil, err
	}
	var match *models.LedgerEntry
	for _, candidate := range all {
		if strings.HasPrefix(candidate.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("journal entry id %q is ambiguous", id)
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, errors.NewStoreError("get", "ledger", id, errors.ErrLedgerEntryNotFound)
	}
	return match, nil
}

func renderJournalTable(output *Output, entries []*models.LedgerEntry) {
	table := NewTable(output, "ID", "Closed", "Instrument", "Side", "Entry", "Actual", "Reason", "Entry Px", "Exit Px", "P&L", "R", "Notes")
	for _, e := range entries {
		table.AddRow(
			ShortID(e.ID), FormatDateTime(e.ClosedAt), e.Instrument, string(e.Direction),
			string(e.EntryScenario), string(e.ActualScenario), string(e.ExitReason),
			utils.FormatPrice(e.EntryPrice), utils.FormatPrice(e.ExitPrice),
			output.FormatPnL(e.RealizedPnL), output.FormatR(e.RMultiple), fmt.Sprintf("%d", len(e.Notes)),
		)
	}
	table.Render()
}

func displayEntry(output *Output, e *models.LedgerEntry) {
	output.Bold("%s %s %s", e.Instrument, e.Timeframe, strings.ToUpper(string(e.Direction)))
	output.Dim("entry %s, plan %s, position %s", e.ID, e.PlanID, e.PositionID)
	if e.Thesis != "" {
		output.Printf("  %s\n", e.Thesis)
	}
	output.Println()

	output.Printf("  Scenario:   entered %s, played out %s (%d%%)\n", e.EntryScenario, e.ActualScenario, e.ActualProbability)
	output.Printf("  Entry:      %s at %s\n", utils.FormatPrice(e.EntryPrice), FormatDateTime(e.OpenedAt))
	output.Printf("  Exit:       %s at %s (%s)\n", utils.FormatPrice(e.ExitPrice), FormatDateTime(e.ClosedAt), e.ExitReason)
	output.Printf("  Held:       %s\n", FormatDuration(e.ClosedAt.Sub(e.OpenedAt)))
	output.Printf("  Levels:     stop %s, targets %s / %s / %s\n", utils.FormatPrice(e.StopLoss),
		utils.FormatPrice(e.Target1), FormatLevel(e.Target2), FormatLevel(e.Target3))
	output.Printf("  Size:       %s at %.1fx\n", utils.FormatAmount(e.Size), e.Leverage)
	output.Printf("  P&L:        %s (%s, %s)\n", output.FormatPnL(e.RealizedPnL),
		output.FormatPercent(e.RealizedPnLPercent), output.FormatR(e.RMultiple))

	if len(e.Notes) > 0 {
		output.Println()
		output.Bold("Notes")
		for _, n := range e.Notes {
			output.Printf("  %s  %s\n", output.DimText(FormatDateTime(n.CreatedAt)), n.Text)
		}
	}
}

func renderSummary(output *Output, s journal.Summary) {
	if s.Count == 0 {
		output.Info("No closed positions in range.")
		return
	}

	output.Bold("Performance")
	output.Printf("  Trades:         %d (%d wins, %d losses, %d flat)\n", s.Count, s.Wins, s.Losses, s.Breakeven)
	output.Printf("  Win rate:       %.1f%%\n", s.WinRate)
	output.Printf("  Total P&L:      %s\n", output.FormatPnL(s.TotalPnL))
	output.Printf("  Avg P&L:        %s\n", output.FormatPercent(s.AvgPnLPct))
	output.Printf("  Avg R:          %s\n", output.FormatR(s.AvgR))
	output.Printf("  Expectancy:     %s\n", output.FormatPnL(s.Expectancy))
	output.Printf("  Avg win/loss:   %s / %s\n", output.FormatPnL(s.AvgWin), output.FormatPnL(s.AvgLoss))
	output.Printf("  Profit factor:  %.2f\n", s.ProfitFactor)
	output.Printf("  Max drawdown:   %s\n", utils.FormatAmount(s.MaxDrawdown))
	output.Printf("  Avg hold:       %s\n", FormatDuration(s.AvgHold))
	if s.Best != nil {
		output.Printf("  Best:           %s %s\n", s.Best.Instrument, output.FormatPnL(s.Best.RealizedPnL))
	}
	if s.Worst != nil {
		output.Printf("  Worst:          %s %s\n", s.Worst.Instrument, output.FormatPnL(s.Worst.RealizedPnL))
	}
	output.Println()

	output.Bold("By entry scenario")
	table := NewTable(output, "Scenario", "Trades", "Played out", "Wins", "P&L", "Avg R")
	for _, t := range models.ScenarioTypes {
		st, ok := s.ByEntryScenario[t]
		if !ok {
			continue
		}
		table.AddRow(fmt.Sprintf("%s %s", t, t.Label()), fmt.Sprintf("%d", st.Count), fmt.Sprintf("%d", st.Hits),
			fmt.Sprintf("%d", st.Wins), output.FormatPnL(st.TotalPnL), output.FormatR(st.AvgR))
	}
	table.Render()
	output.Printf("  Scenario hit rate: %.1f%%\n", s.ScenarioHitRate)
	output.Println()

	output.Bold("Exit reasons")
	reasons := make([]string, 0, len(s.ByExitReason))
	for r := range s.ByExitReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		output.Printf("  %-14s %d\n", r, s.ByExitReason[models.ExitReason(r)])
	}
}
