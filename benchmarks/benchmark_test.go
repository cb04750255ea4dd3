package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/OrlandoBitencourt/pennant"
	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/evaluator"
	"github.com/OrlandoBitencourt/pennant/internal/events"
	"github.com/OrlandoBitencourt/pennant/internal/fetcher"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// BenchmarkVariation_Simple benchmarks a variation call on an on/off flag
func BenchmarkVariation_Simple(b *testing.B) {
	c := setupClient(b, simpleBooleanFlag())

	ctx := context.Background()
	user := pennant.NewUser("user-123")

	b.ResetTimer()
	for b.Loop() {
		_ = c.BoolVariation(ctx, "test-flag", user, false)
	}
}

// BenchmarkVariation_WithRules benchmarks clause matching
func BenchmarkVariation_WithRules(b *testing.B) {
	c := setupClient(b, flagWithRules())

	ctx := context.Background()
	user := pennant.NewUser("user-123").With("tier", "premium")
	user.Country = "BR"

	b.ResetTimer()
	for b.Loop() {
		_ = c.BoolVariation(ctx, "test-flag", user, false)
	}
}

// BenchmarkVariation_ExprRule benchmarks an expression clause (compiled once)
func BenchmarkVariation_ExprRule(b *testing.B) {
	c := setupClient(b, flagWithExpr())

	ctx := context.Background()
	user := pennant.NewUser("user-123").With("tier", "premium").With("age", 30)
	user.Country = "BR"

	b.ResetTimer()
	for b.Loop() {
		_ = c.BoolVariation(ctx, "test-flag", user, false)
	}
}

// BenchmarkVariation_Missing benchmarks the not-found path
func BenchmarkVariation_Missing(b *testing.B) {
	c := setupClient(b, simpleBooleanFlag())

	ctx := context.Background()
	user := pennant.NewUser("user-123")

	b.ResetTimer()
	for b.Loop() {
		_ = c.BoolVariation(ctx, "missing", user, false)
	}
}

// BenchmarkConcurrentVariations benchmarks concurrent variation calls
func BenchmarkConcurrentVariations(b *testing.B) {
	c := setupClient(b, flagWithRollout())

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = c.StringVariation(ctx, "test-flag", pennant.NewUser(fmt.Sprintf("user-%d", i)), "control")
			i++
		}
	})
}

// BenchmarkEvaluator_Rollout benchmarks bucketing without the client
func BenchmarkEvaluator_Rollout(b *testing.B) {
	ev := evaluator.New()
	store := storage.NewMemoryStore()
	flag := flagWithRollout()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		_, _, _ = ev.Evaluate(ctx, flag, domain.User{Key: fmt.Sprintf("user-%d", i)}, store)
	}
}

// BenchmarkAccumulator_RecordDrain benchmarks recording with periodic drains
func BenchmarkAccumulator_RecordDrain(b *testing.B) {
	acc := events.NewAccumulator(events.Unbounded)
	ev := domain.NewFeatureEvent("test-flag", domain.User{Key: "user-123"}, true, false, domain.IntPtr(1))

	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		acc.Record(ev)
		if i%1000 == 0 {
			_ = acc.Drain()
		}
	}
}

// BenchmarkMemoryStore_Get benchmarks store lookups
func BenchmarkMemoryStore_Get(b *testing.B) {
	store := storage.NewMemoryStore()
	flags := make(map[string]domain.Flag, 100)
	for i := range 100 {
		f := simpleBooleanFlag()
		f.Key = fmt.Sprintf("flag-%d", i)
		flags[f.Key] = f
	}
	if err := store.Init(context.Background(), flags); err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		_, _, _ = store.Get(ctx, fmt.Sprintf("flag-%d", i%100))
	}
}

// BenchmarkCachedStore_Get benchmarks read-through cache hits over sqlite
func BenchmarkCachedStore_Get(b *testing.B) {
	backend, err := storage.NewSQLiteStore(b.TempDir() + "/flags.db")
	if err != nil {
		b.Fatal(err)
	}
	store, err := storage.NewCachedStore(backend, storage.DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.Init(ctx, map[string]domain.Flag{"test-flag": simpleBooleanFlag()}); err != nil {
		b.Fatal(err)
	}
	// warm the cache
	_, _, _ = store.Get(ctx, "test-flag")
	store.Wait()

	b.ResetTimer()
	for b.Loop() {
		_, _, _ = store.Get(ctx, "test-flag")
	}
}

// Helper functions

func setupClient(b *testing.B, flags ...domain.Flag) *pennant.Client {
	b.Helper()

	set := make(map[string]domain.Flag, len(flags))
	for _, f := range flags {
		set[f.Key] = f
	}

	poster := transport.NewMockPoster()

	c, err := pennant.New(
		pennant.WithFetcher(fetcher.Func(func(ctx context.Context) (map[string]domain.Flag, error) {
			return set, nil
		})),
		pennant.WithPoster(poster),
		pennant.WithDeliveryMode(pennant.DeliverySync),
		pennant.WithEventCapacity(1_000_000),
		pennant.WithLogger(logging.Discard()),
	)
	if err != nil {
		b.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = c.Stop(context.Background()) })

	return c
}

func simpleBooleanFlag() domain.Flag {
	return domain.Flag{
		Key:          "test-flag",
		Version:      1,
		On:           true,
		Variations:   []any{false, true},
		OffVariation: domain.IntPtr(0),
		Fallthrough:  domain.VariationOrRollout{Variation: domain.IntPtr(1)},
	}
}

func flagWithRules() domain.Flag {
	f := simpleBooleanFlag()
	f.Fallthrough = domain.VariationOrRollout{Variation: domain.IntPtr(0)}
	f.Rules = []domain.Rule{{
		Clauses: []domain.Clause{
			{Attribute: "country", Op: domain.OperatorIn, Values: []any{"US", "BR", "MX"}},
			{Attribute: "tier", Op: domain.OperatorIn, Values: []any{"premium"}},
		},
		VariationOrRollout: domain.VariationOrRollout{Variation: domain.IntPtr(1)},
	}}
	return f
}

func flagWithExpr() domain.Flag {
	f := simpleBooleanFlag()
	f.Fallthrough = domain.VariationOrRollout{Variation: domain.IntPtr(0)}
	f.Rules = []domain.Rule{{
		Clauses: []domain.Clause{
			{Op: domain.OperatorExpr, Values: []any{`country == "BR" && tier == "premium" && age >= 18`}},
		},
		VariationOrRollout: domain.VariationOrRollout{Variation: domain.IntPtr(1)},
	}}
	return f
}

func flagWithRollout() domain.Flag {
	return domain.Flag{
		Key:        "test-flag",
		Version:    1,
		On:         true,
		Variations: []any{"control", "treatment"},
		Fallthrough: domain.VariationOrRollout{Rollout: &domain.Rollout{
			Variations: []domain.WeightedVariation{
				{Variation: 0, Weight: 50_000},
				{Variation: 1, Weight: 50_000},
			},
		}},
	}
}
