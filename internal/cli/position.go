package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
	"scenario-trader/internal/store"
	"scenario-trader/pkg/utils"
)

// addPositionCommands adds simulated position commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "position",
		Aliases: []string{"positions"},
		Short:   "Simulated positions",
	}

	cmd.AddCommand(newPositionListCmd(app))
	cmd.AddCommand(newPositionCloseCmd(app))

	rootCmd.AddCommand(cmd)
}

func newPositionListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			status, _ := cmd.Flags().GetString("status")
			planID, _ := cmd.Flags().GetString("plan")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.PositionFilter{
				Status: models.PositionStatus(strings.ToLower(status)),
				Limit:  limit,
			}
			switch filter.Status {
			case "", models.PositionOpen, models.PositionClosed:
			default:
				return errors.NewValidationError("status", status, "must be open or closed")
			}

			s, err := app.Store()
			if err != nil {
				return err
			}
			if planID != "" {
				plan, err := findPlan(ctx, s, planID)
				if err != nil {
					return err
				}
				filter.PlanID = plan.ID
			}
			positions, err := s.ListPositions(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Info("No positions found.")
				return nil
			}
			renderPositionTable(output, positions)
			return nil
		},
	}
	cmd.Flags().String("status", "open", "filter by status (open, closed; empty for all)")
	cmd.Flags().String("plan", "", "filter by plan id")
	cmd.Flags().Int("limit", 0, "maximum number of positions")
	return cmd
}

func newPositionCloseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <plan-id>",
		Short: "Close a plan's open position manually",
		Long: `Close the open position of a plan at the given price. The plan moves
to closed and the entry scenario is recorded as the realized outcome.`,
		Example: `  trader position close 3f2a9c1e --price 64250`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			price, _ := cmd.Flags().GetFloat64("price")
			if price <= 0 {
				return errors.NewValidationError("price", price, "a positive --price is required")
			}

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
			entry, ok := e.ClosePositionAt(ctx, plan.ID, price)
			if !ok {
				return fmt.Errorf("plan %s: %w", ShortID(plan.ID), errors.ErrPositionNotFound)
			}

			if output.IsJSON() {
				return output.JSON(entry)
			}
			output.Success("Closed %s %s at %s", entry.Instrument, entry.Direction, utils.FormatPrice(entry.ExitPrice))
			output.Printf("  P&L: %s (%s, %s)\n", output.FormatPnL(entry.RealizedPnL),
				output.FormatPercent(entry.RealizedPnLPercent), output.FormatR(entry.RMultiple))
			output.Dim("Journal entry %s", entry.ID)
			return nil
		},
	}
	cmd.Flags().Float64("price", 0, "exit price (required)")
	return cmd
}

func renderPositionTable(output *Output, positions []*models.Position) {
	table := NewTable(output, "ID", "Plan", "Instrument", "Sc", "Side", "Size", "Entry", "Stop", "T1", "Opened", "Status", "Exit", "P&L", "R")
	for _, p := range positions {
		exit, pnl, r := "-", "-", "-"
		if !p.IsOpen() {
			exit = fmt.Sprintf("%s %s", utils.FormatPrice(p.ExitPrice), p.ExitReason)
			pnl = output.FormatPnL(p.RealizedPnL)
			r = output.FormatR(p.RMultiple)
		}
		table.AddRow(
			ShortID(p.ID), ShortID(p.PlanID), p.Instrument, string(p.Scenario), string(p.Direction),
			utils.FormatCompact(p.Size*p.Leverage), utils.FormatPrice(p.EntryPrice),
			utils.FormatPrice(p.StopLoss), utils.FormatPrice(p.Target1), FormatDateTime(p.OpenedAt), string(p.Status), exit, pnl, r,
		)
	}
	table.Render()
}
