package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
	"scenario-trader/internal/risk"
	"scenario-trader/internal/scenario"
	"scenario-trader/internal/store"
)

// addPlanCommands adds battle-card commands.
func addPlanCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Battle-card management",
		Long:  "Import, review and manage battle cards.",
	}

	cmd.AddCommand(newPlanImportCmd(app))
	cmd.AddCommand(newPlanExportCmd(app))
	cmd.AddCommand(newPlanListCmd(app))
	cmd.AddCommand(newPlanShowCmd(app))
	cmd.AddCommand(newPlanActivateCmd(app))
	cmd.AddCommand(newPlanArchiveCmd(app))
	cmd.AddCommand(newPlanDeleteCmd(app))
	cmd.AddCommand(newPlanProbCmd(app))

	rootCmd.AddCommand(cmd)
}

func newPlanImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import battle cards from YAML",
		Long: `Import one or more battle cards from a YAML file.

The file holds either a single plan or a list under "plans". Missing
scenarios are added at probability 0 and plans without an id get one.`,
		Example: `  trader plan import btc.yaml
  trader plan import cards.yaml --activate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			activate, _ := cmd.Flags().GetBool("activate")

			plans, err := store.LoadPlanFile(args[0])
			if err != nil {
				return err
			}
			s, err := app.Store()
			if err != nil {
				return err
			}

			for _, p := range plans {
				if activate && p.Status == models.PlanDraft {
					p.Status = models.PlanActive
				}
				if err := scenario.ValidatePlan(p); err != nil {
					return fmt.Errorf("plan %s (%s): %w", ShortID(p.ID), p.Instrument, err)
				}
			}
			for _, p := range plans {
				if err := s.SavePlan(ctx, p); err != nil {
					return fmt.Errorf("saving plan %s: %w", p.ID, err)
				}
			}

			if output.IsJSON() {
				return output.JSON(plans)
			}
			output.Success("Imported %d plan(s)", len(plans))
			renderPlanTable(output, plans)
			return nil
		},
	}
	cmd.Flags().Bool("activate", false, "activate draft plans after import")
	return cmd
}

func newPlanExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file.yaml]",
		Short: "Export battle cards as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			filter, err := planFilterFromFlags(cmd)
			if err != nil {
				return err
			}
			s, err := app.Store()
			if err != nil {
				return err
			}
			plans, err := s.ListPlans(ctx, filter)
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
			return store.EncodePlans(w, plans)
		},
	}
	addPlanFilterFlags(cmd)
	return cmd
}

func newPlanListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List battle cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			filter, err := planFilterFromFlags(cmd)
			if err != nil {
				return err
			}
			s, err := app.Store()
			if err != nil {
				return err
			}
			plans, err := s.ListPlans(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(plans)
			}
			if len(plans) == 0 {
				output.Info("No plans found.")
				output.Dim("Tip: import battle cards with 'trader plan import <file.yaml>'.")
				return nil
			}
			renderPlanTable(output, plans)
			return nil
		},
	}
	addPlanFilterFlags(cmd)
	return cmd
}

func newPlanShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a battle card with its scenarios",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s, err := app.Store()
			if err != nil {
				return err
			}
			plan, err := findPlan(ctx, s, args[0])
			if err != nil {
				return err
			}
			positions, err := s.ListPositions(ctx, store.PositionFilter{PlanID: plan.ID})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"plan":      plan,
					"positions": positions,
				})
			}
			displayPlan(output, plan)
			if len(positions) > 0 {
				output.Println()
				output.Bold("Positions")
				renderPositionTable(output, positions)
			}
			return nil
		},
	}
}

func newPlanActivateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <plan-id>",
		Short: "Activate a plan, or re-arm a finished one",
		Long: `Make a plan active so the engine evaluates it.

Activating a completed or closed plan clears its fired actions, so it can
enter again. Plans with an open position cannot be re-armed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s, err := app.Store()
			if err != nil {
				return err
			}
			plan, err := findPlan(ctx, s, args[0])
			if err != nil {
				return err
			}

			candidate := plan.Clone()
			candidate.Status = models.PlanActive
			if err := scenario.ValidatePlan(candidate); err != nil {
				return err
			}

			e, err := app.newEngine(ctx, s, nil)
			if err != nil {
				return err
			}
			if err := e.ResetPlan(ctx, plan.ID); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"id": plan.ID, "status": string(models.PlanActive)})
			}
			output.Success("Plan %s (%s) is active", ShortID(plan.ID), plan.Instrument)
			return nil
		},
	}
}

func newPlanArchiveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <plan-id>",
		Short: "Archive a plan so it is no longer evaluated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s, err := app.Store()
			if err != nil {
				return err
			}
			plan, err := findPlan(ctx, s, args[0])
			if err != nil {
				return err
			}
			open, err := s.ListPositions(ctx, store.PositionFilter{PlanID: plan.ID, Status: models.PositionOpen})
			if err != nil {
				return err
			}
			if len(open) > 0 {
				return fmt.Errorf("plan %s: %w; close it with 'trader position close'", ShortID(plan.ID), errors.ErrPositionExists)
			}
			if err := s.SetPlanStatus(ctx, plan.ID, models.PlanArchived); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"id": plan.ID, "status": string(models.PlanArchived)})
			}
			output.Success("Plan %s archived", ShortID(plan.ID))
			return nil
		},
	}
}

func newPlanDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <plan-id>",
		Short: "Delete a plan",
		Long: `Delete a plan and its scenarios. Journal entries are kept.

An open position is closed manually first; pass --price when no live
price is available.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			price, _ := cmd.Flags().GetFloat64("price")

			s, err := app.Store()
			if err != nil {
				return err
			}
			plan, err := findPlan(ctx, s, args[0])
			if err != nil {
				return err
			}

			e, err := app.newEngine(ctx, s, nil)
			if err != nil {
				return err
			}
			var entry *models.LedgerEntry
			if price > 0 {
				entry, _ = e.ClosePositionAt(ctx, plan.ID, price)
			}
			if _, ok := e.Status(plan.ID); ok {
				closed, err := e.RemovePlan(ctx, plan.ID)
				if err != nil {
					if errors.Is(err, errors.ErrNoPrice) {
						return fmt.Errorf("plan %s has an open position; pass --price to close it", ShortID(plan.ID))
					}
					return err
				}
				if closed != nil {
					entry = closed
				}
			}
			if err := s.DeletePlan(ctx, plan.ID); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"id": plan.ID, "deleted": true, "closed": entry})
			}
			if entry != nil {
				output.Printf("Closed position at %s: %s (%s)\n", FormatLevel(&entry.ExitPrice),
					output.FormatPnL(entry.RealizedPnL), output.FormatR(entry.RMultiple))
			}
			output.Success("Plan %s deleted", ShortID(plan.ID))
			return nil
		},
	}
	cmd.Flags().Float64("price", 0, "exit price for an open position")
	return cmd
}

func newPlanProbCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prob <plan-id> <A|B|C|D> <probability>",
		Short: "Set a scenario probability and rebalance the others",
		Long: `Set one scenario's probability. The difference is spread over the
other scenarios in proportion to their current share so the total stays 100.`,
		Example: `  trader plan prob 3f2a9c1e A 60`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			t := models.ScenarioType(strings.ToUpper(args[1]))
			if !t.Valid() {
				return errors.NewValidationError("scenario", args[1], "must be A, B, C or D")
			}
			value, err := strconv.Atoi(args[2])
			if err != nil || value < 0 || value > 100 {
				return errors.NewValidationError("probability", args[2], "must be an integer between 0 and 100")
			}

			s, err := app.Store()
			if err != nil {
				return err
			}
			plan, err := findPlan(ctx, s, args[0])
			if err != nil {
				return err
			}

			plan.Scenarios = scenario.Rebalance(plan.Scenarios, t, value)
			plan.UpdatedAt = time.Now().UTC()
			if err := s.SavePlan(ctx, plan); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(plan.Scenarios)
			}
			for _, sc := range plan.Scenarios {
				output.Printf("  %s %-12s %3d%%\n", sc.Type, sc.Type.Label(), sc.Probability)
			}
			if sum := scenario.Sum(plan.Scenarios); sum != 100 {
				output.Warning("Probabilities sum to %d; edit another scenario to restore 100", sum)
			}
			return nil
		},
	}
}

func addPlanFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("status", "", "filter by status (draft, active, monitoring, completed, closed, archived)")
	cmd.Flags().String("instrument", "", "filter by instrument")
	cmd.Flags().Int("limit", 0, "maximum number of plans")
}

func planFilterFromFlags(cmd *cobra.Command) (store.PlanFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	instrument, _ := cmd.Flags().GetString("instrument")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.PlanFilter{
		Instrument: strings.ToUpper(instrument),
		Status:     models.PlanStatus(strings.ToLower(status)),
		Limit:      limit,
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, errors.NewValidationError("status", status, "unknown status")
	}
	return f, nil
}

// findPlan resolves a full id or a unique id prefix.
func findPlan(ctx context.Context, s store.PlanRepository, id string) (*models.Plan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, errors.ErrPlanNotFound) {
		return nil, err
	}

	all, err := s.ListPlans(ctx, store.PlanFilter{})
	if err != nil {
		return nil, err
	}
	var match *models.Plan
	for _, p := range all {
		if strings.HasPrefix(p.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("plan id %q is ambiguous", id)
			}
			match = p
		}
	}
	if match == nil {
		return nil, errors.NewStoreError("get", "plan", id, errors.ErrPlanNotFound)
	}
	return match, nil
}

func renderPlanTable(output *Output, plans []*models.Plan) {
	table := NewTable(output, "ID", "Instrument", "TF", "Status", "A", "B", "C", "D", "Thesis")
	for _, p := range plans {
		probs := make([]string, 0, len(models.ScenarioTypes))
		for _, t := range models.ScenarioTypes {
			sc, _ := p.Scenario(t)
			probs = append(probs, fmt.Sprintf("%d%%", sc.Probability))
		}
		table.AddRow(append(append([]string{
			ShortID(p.ID), p.Instrument, p.Timeframe, output.FormatStatus(p.Status),
		}, probs...), TruncateString(p.Thesis, 40))...)
	}
	table.Render()
}

func displayPlan(output *Output, plan *models.Plan) {
	output.Bold("%s %s  %s", plan.Instrument, plan.Timeframe, output.FormatStatus(plan.Status))
	output.Dim("id %s, updated %s", plan.ID, FormatDateTime(plan.UpdatedAt))
	if plan.Thesis != "" {
		output.Printf("  %s\n", plan.Thesis)
	}
	output.Println()

	table := NewTable(output, "", "Scenario", "Prob", "Trigger", "Entry", "Stop", "T1", "T2", "T3", "R:R")
	for _, sc := range plan.Scenarios {
		rr := "-"
		if sc.HasTradeLevels() {
			rr = FormatRiskReward(risk.RiskReward(*sc.EntryPrice, *sc.StopLoss, *sc.Target1))
		}
		table.AddRow(
			string(sc.Type), sc.Type.Label(), fmt.Sprintf("%d%%", sc.Probability),
			FormatLevel(sc.TriggerPrice), FormatLevel(sc.EntryPrice), FormatLevel(sc.StopLoss),
			FormatLevel(sc.Target1), FormatLevel(sc.Target2), FormatLevel(sc.Target3), rr,
		)
	}
	table.Render()

	for _, sc := range plan.Scenarios {
		if sc.Description != "" {
			output.Printf("  %s: %s\n", sc.Type, sc.Description)
		}
	}
	if level, ok := scenario.InvalidationLevel(plan); ok {
		output.Dim("Invalidation at %s", FormatLevel(&level))
	}
	if sum := plan.ProbabilitySum(); sum != 100 {
		output.Warning("Probabilities sum to %d", sum)
	}
}
