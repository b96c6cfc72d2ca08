package services

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/retry"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/similarity"
)

// scenarioVectors places the descriptions used below so that "cavo da 2 metri"
// sits next to "Cable 2m" and far from "Cable 5m".
func scenarioVectors() map[string][]float32 {
	return map[string][]float32{
		"cable 2m":               {1, 0, 0},
		"cable 5m":               {0.3, 1, 0},
		"cavo da 2 metri":        {1, 0.05, 0},
		"five-metre power cable": {0.3, 1, 0.1},
		"promo item":             {0, 0, 1},
	}
}

type fixture struct {
	store      *fakeStore
	scorer     *countingScorer
	resolver   MatchResolver
	learning   LearningService
	evaluation EvaluationService
}

type fixtureOption func(*ResolverConfig, *EvaluationConfig)

func withLearningDisabled() fixtureOption {
	return func(rc *ResolverConfig, _ *EvaluationConfig) { rc.LearningEnabled = false }
}

func withNegativeCacheTTL(ttl time.Duration) fixtureOption {
	return func(rc *ResolverConfig, _ *EvaluationConfig) { rc.NegativeCacheTTL = ttl }
}

// newFixture seeds the catalogue of the end-to-end scenarios:
// list 1 (active) holds rows 1 "Cable 2m" @10 and 2 "Cable 5m" @25,
// list 2 (active) holds row 3 "Promo item" @0.
func newFixture(t *testing.T, encoderAvailable bool, opts ...fixtureOption) *fixture {
	t.Helper()

	store := newFakeStore()
	store.addList(1, "Acme 2024", true, nil)
	store.addList(2, "Promotions", true, nil)
	store.addRow(1, 1, "A1", "Cable 2m", 10.00)
	store.addRow(2, 1, "A2", "Cable 5m", 25.00)
	store.addRow(3, 2, "", "Promo item", 0.00)

	rc := DefaultResolverConfig()
	rc.NegativeCacheTTL = 0
	ec := DefaultEvaluationConfig()
	ec.Retry = &retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	for _, opt := range opts {
		opt(&rc, &ec)
	}

	logger := zap.NewNop()
	encoder := &vectorEncoder{available: encoderAvailable, vectors: scenarioVectors()}
	scorer := &countingScorer{inner: similarity.NewEngine(encoder, logger)}

	resolver := NewMatchResolver(&fakeCatalogue{store}, &fakeAssociations{store}, scorer, rc, logger)
	return &fixture{
		store:      store,
		scorer:     scorer,
		resolver:   resolver,
		learning:   NewLearningService(&fakeAssociations{store}, resolver, rc.LearningEnabled, logger),
		evaluation: NewEvaluationService(resolver, &fakeLines{store}, &fakeChecks{store}, ec, logger),
	}
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }
