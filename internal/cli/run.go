package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"scenario-trader/internal/engine"
	"scenario-trader/internal/journal"
	"scenario-trader/internal/models"
	"scenario-trader/internal/notify"
	"scenario-trader/internal/store"
	"scenario-trader/internal/stream"
)

// addRunCommands adds the live and replay engine commands.
func addRunCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newReplayCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trigger engine against the live quote feed",
		Long: `Connect to the configured WebSocket quote feed and evaluate every live
battle card on each quote until interrupted.

Instruments of active plans are subscribed automatically; [feed].symbols adds
more. Positions, plan statuses and journal entries are persisted in the
background and flushed on shutdown.`,
		Example: `  trader run
  trader run --url wss://quotes.example.com/ws --status-every 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			logger := app.Logger

			feedCfg := app.Config.Feed
			if url, _ := cmd.Flags().GetString("url"); url != "" {
				feedCfg.URL = url
			}
			if symbols, _ := cmd.Flags().GetStringSlice("symbols"); len(symbols) > 0 {
				feedCfg.Symbols = append(feedCfg.Symbols, upperAll(symbols)...)
			}
			if feedCfg.URL == "" {
				return fmt.Errorf("no feed url: set [feed].url, TRADER_FEED_URL or --url")
			}
			statusEvery, _ := cmd.Flags().GetDuration("status-every")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			base, err := app.Store()
			if err != nil {
				return err
			}
			wb := store.NewWriteBehind(base, app.Config.Store.WriteBuffer, logger)
			// App.Close now drains the queue before closing the base store.
			app.store = wb

			notifier := notify.New(app.Config.Notifications, logger)
			defer notifier.Close()

			e := engine.New(wb, wb, wb, app.Settings, notifier, logger)
			if err := e.Load(ctx); err != nil {
				return err
			}

			hub := stream.NewHub()
			hub.Start(ctx)
			defer hub.Stop()
			hub.RegisterConsumer(e)

			feed := stream.NewWSFeed(feedCfg, hub, logger).WithSymbols(hub.Symbols)

			if !output.IsJSON() {
				m := e.Metrics()
				output.Bold("Scenario Trader v%s", Version)
				output.Printf("  Feed:      %s\n", feedCfg.URL)
				output.Printf("  Plans:     %d live, %d open positions\n", m.Plans, m.OpenPositions)
				output.Printf("  Symbols:   %s\n", strings.Join(hub.Symbols(), ", "))
				output.Dim("Press Ctrl+C to stop.")
			}

			p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
			p.Go(e.Run)
			p.Go(feed.Run)
			if statusEvery > 0 {
				p.Go(func(ctx context.Context) error {
					ticker := time.NewTicker(statusEvery)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							logStatus(app, e, hub, feed, wb)
						}
					}
				})
			}
			runErr := p.Wait()

			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := wb.Flush(flushCtx); err != nil {
				logger.Error().Err(err).Msg("Flushing store on shutdown")
			}

			m := e.Metrics()
			if output.IsJSON() {
				if err := output.JSON(map[string]interface{}{
					"engine": m,
					"feed":   feed.Stats(),
					"hub":    hub.Metrics(),
					"store":  wb.Stats(),
				}); err != nil {
					return err
				}
			} else {
				output.Println()
				output.Bold("Stopped")
				renderMetrics(output, m)
			}
			return runErr
		},
	}
	cmd.Flags().String("url", "", "quote feed WebSocket url (overrides config)")
	cmd.Flags().StringSlice("symbols", nil, "additional symbols to subscribe")
	cmd.Flags().Duration("status-every", 5*time.Minute, "log engine status at this interval (0 disables)")
	return cmd
}

func logStatus(app *App, e *engine.Engine, hub *stream.Hub, feed *stream.WSFeed, wb *store.WriteBehind) {
	m := e.Metrics()
	fs := feed.Stats()
	ws := wb.Stats()
	app.Logger.Info().
		Uint64("ticks", m.TicksProcessed).
		Uint64("ticks_dropped", m.TicksDropped).
		Uint64("entries", m.Entries).
		Int("plans", m.Plans).
		Int("open_positions", m.OpenPositions).
		Uint64("feed_received", fs.Received).
		Uint64("feed_reconnects", fs.Reconnects).
		Uint64("hub_dropped", hub.Metrics().Dropped).
		Int("store_pending", ws.Pending).
		Uint64("store_failed", ws.Failed).
		Msg("Engine status")
}

func newReplayCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <prices.csv>",
		Short: "Replay a recorded price path through the engine",
		Long: `Feed a CSV price path (symbol,price[,high24h,low24h,ts]) through the
trigger engine quote by quote and report what would have happened.

By default the replay runs on an in-memory copy of the stored plans so
nothing is persisted; --plans replays battle cards from a YAML file
instead and --persist writes positions and journal entries to the
configured store. The engine clock follows the quote timestamps.`,
		Example: `  trader replay btc-2024-03.csv --plans btc.yaml
  trader replay path.csv --persist`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			plansFile, _ := cmd.Flags().GetString("plans")
			persist, _ := cmd.Flags().GetBool("persist")
			pace, _ := cmd.Flags().GetDuration("pace")

			feed, err := stream.LoadReplayFile(args[0])
			if err != nil {
				return err
			}
			feed.Pace = pace

			target, err := replayStore(ctx, app, plansFile, persist)
			if err != nil {
				return err
			}

			var clock atomic.Int64
			recorder := &notify.Recorder{}
			e := engine.New(target, target, target, app.Settings, recorder, app.Logger,
				engine.WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }))
			if err := e.Load(ctx); err != nil {
				return err
			}

			var rejected int
			n, runErr := feed.Run(ctx, stream.PublisherFunc(func(q models.Quote) {
				clock.Store(q.Timestamp.UnixNano())
				if err := e.OnPriceUpdate(ctx, q); err != nil {
					rejected++
					app.Logger.Warn().Err(err).Str("symbol", q.Symbol).Msg("Quote rejected")
				}
			}))

			quotes := feed.Quotes()
			var from, to time.Time
			if len(quotes) > 0 {
				from, to = quotes[0].Timestamp, quotes[len(quotes)-1].Timestamp
			}
			entries, err := journal.Load(ctx, target, journal.Filter{Since: from, Until: to})
			if err != nil {
				return err
			}
			summary := journal.Summarize(entries)
			snapshots := e.Statuses()
			m := e.Metrics()

			if output.IsJSON() {
				if err := output.JSON(map[string]interface{}{
					"quotes":        n,
					"rejected":      rejected,
					"metrics":       m,
					"notifications": countByKind(recorder.Sent()),
					"plans":         snapshots,
					"entries":       entries,
					"summary":       summary,
				}); err != nil {
					return err
				}
				return runErr
			}

			output.Bold("Replayed %d of %d quotes (%s)", n, len(quotes), strings.Join(feed.Symbols(), ", "))
			if rejected > 0 {
				output.Warning("%d quotes rejected", rejected)
			}
			renderMetrics(output, m)
			output.Println()

			if counts := countByKind(recorder.Sent()); len(counts) > 0 {
				output.Bold("Notifications")
				kinds := make([]string, 0, len(counts))
				for k := range counts {
					kinds = append(kinds, string(k))
				}
				sort.Strings(kinds)
				for _, k := range kinds {
					output.Printf("  %-13s %d\n", k, counts[notify.Kind(k)])
				}
				output.Println()
			}

			if len(entries) > 0 {
				output.Bold("Journal")
				renderJournalTable(output, entries)
				output.Println()
			}
			renderSummary(output, summary)

			var open []*models.Position
			for _, s := range snapshots {
				if s.Position != nil {
					open = append(open, s.Position)
				}
			}
			if len(open) > 0 {
				output.Println()
				output.Bold("Still open")
				renderPositionTable(output, open)
			}
			return runErr
		},
	}
	cmd.Flags().String("plans", "", "replay battle cards from a YAML file instead of the store")
	cmd.Flags().Bool("persist", false, "write results to the configured store")
	cmd.Flags().Duration("pace", 0, "delay between quotes")
	return cmd
}

// replayStore returns the store a replay runs against. Without --persist the
// plans are copied into a memory store so the configured one is untouched.
func replayStore(ctx context.Context, app *App, plansFile string, persist bool) (store.Store, error) {
	var plans []*models.Plan
	if plansFile != "" {
		loaded, err := store.LoadPlanFile(plansFile)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if p.Status == models.PlanDraft {
				p.Status = models.PlanActive
			}
		}
		plans = loaded
	}

	if persist {
		s, err := app.Store()
		if err != nil {
			return nil, err
		}
		for _, p := range plans {
			if err := s.SavePlan(ctx, p); err != nil {
				return nil, err
			}
		}
		return s, nil
	}

	mem := store.NewMemoryStore()
	if plansFile == "" {
		s, err := app.Store()
		if err != nil {
			return nil, err
		}
		if plans, err = s.ListActivePlans(ctx); err != nil {
			return nil, err
		}
		// Open positions stay behind; every copied plan starts flat.
		for _, p := range plans {
			p.Status = models.PlanActive
		}
	}
	for _, p := range plans {
		if err := mem.SavePlan(ctx, p); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func renderMetrics(output *Output, m engine.Metrics) {
	output.Printf("  Ticks:          %d processed, %d dropped\n", m.TicksProcessed, m.TicksDropped)
	output.Printf("  Entries:        %d\n", m.Entries)
	reasons := make([]string, 0, len(m.Exits))
	for r, n := range m.Exits {
		reasons = append(reasons, fmt.Sprintf("%s %d", r, n))
	}
	sort.Strings(reasons)
	if len(reasons) == 0 {
		reasons = append(reasons, "none")
	}
	output.Printf("  Exits:          %s\n", strings.Join(reasons, ", "))
	if m.SkippedNoPrice > 0 {
		output.Printf("  Skipped:        %d evaluations without a price\n", m.SkippedNoPrice)
	}
	if m.InvariantViolations > 0 {
		output.Warning("  Invariant violations: %d", m.InvariantViolations)
	}
	if m.RefreshFailures > 0 {
		output.Warning("  Store refresh failures: %d", m.RefreshFailures)
	}
	output.Printf("  Plans:          %d, %d open positions\n", m.Plans, m.OpenPositions)
}

func countByKind(sent []notify.Notification) map[notify.Kind]int {
	counts := make(map[notify.Kind]int)
	for _, n := range sent {
		counts[n.Kind]++
	}
	return counts
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
