package engine

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"scenario-trader/internal/config"
	"scenario-trader/internal/models"
	"scenario-trader/internal/notify"
	"scenario-trader/internal/store"
)

// Property: along any price path a plan opens at most one position, never
// holds two open positions, and every close produces exactly one ledger entry.
func TestProperty_SingleOpenPositionPerPlan(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("at most one entry and one open position", prop.ForAll(
		func(path []float64) bool {
			ctx := context.Background()
			ms := store.NewMemoryStore()
			if err := ms.SavePlan(ctx, longPlan("p1", "BTCUSDT")); err != nil {
				return false
			}
			e := New(ms, ms, ms, config.NewSettings(testConfig()), &notify.Recorder{}, zerolog.Nop())
			if err := e.Load(ctx); err != nil {
				return false
			}

			for _, p := range path {
				if err := e.OnPriceUpdate(ctx, models.Quote{Symbol: "BTCUSDT", Price: p}); err != nil {
					return false
				}
				open, _ := ms.OpenPositions(ctx)
				if len(open) > 1 {
					return false
				}
			}

			m := e.Metrics()
			if m.Entries > 1 {
				return false
			}
			exits := uint64(0)
			for _, n := range m.Exits {
				exits += n
			}
			entries, _ := ms.ListEntries(ctx, store.LedgerFilter{})
			open, _ := ms.OpenPositions(ctx)
			if uint64(len(entries)) != exits || exits > m.Entries {
				return false
			}
			return int(m.Entries) == len(entries)+len(open)
		},
		gen.SliceOfN(60, gen.Float64Range(85, 115)),
	))

	properties.Property("exit priority: invalidation beats stop", prop.ForAll(
		func(below float64) bool {
			ctx := context.Background()
			ms := store.NewMemoryStore()
			_ = ms.SavePlan(ctx, longPlan("p1", "BTCUSDT"))
			e := New(ms, ms, ms, config.NewSettings(testConfig()), nil, zerolog.Nop())
			if err := e.Load(ctx); err != nil {
				return false
			}
			_ = e.OnPriceUpdate(ctx, models.Quote{Symbol: "BTCUSDT", Price: 100})
			_ = e.OnPriceUpdate(ctx, models.Quote{Symbol: "BTCUSDT", Price: below})

			entries, _ := ms.ListEntries(ctx, store.LedgerFilter{})
			return len(entries) == 1 && entries[0].ExitReason == models.ExitInvalidation
		},
		gen.Float64Range(1, 90),
	))

	properties.TestingRun(t)
}
