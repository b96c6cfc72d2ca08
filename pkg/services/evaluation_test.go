package services

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
)

func TestEvaluationService_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		encoder     bool
		description string
		code        string
		price       float64
		scope       models.ListScope
		wantRow     *int64
		wantSource  *models.MatchSource
		wantPercent *float64
		wantBand    models.Band
	}{
		{
			name:        "exact code short-circuit",
			encoder:     true,
			description: "five-metre power cable",
			code:        "A2",
			price:       26.00,
			scope:       models.SingleList(1),
			wantRow:     int64Ptr(2),
			wantSource:  sourcePtr(models.MatchSourceCode),
			wantPercent: floatPtr(4.0),
			wantBand:    models.BandReview,
		},
		{
			name:        "semantic fallback",
			encoder:     true,
			description: "cavo da 2 metri",
			price:       10.15,
			scope:       models.SingleList(1),
			wantRow:     int64Ptr(1),
			wantSource:  sourcePtr(models.MatchSourceSemantic),
			wantPercent: floatPtr(1.5),
			wantBand:    models.BandOK,
		},
		{
			name:        "encoder unavailable without shared tokens",
			encoder:     false,
			description: "cavo da 2 metri",
			price:       10.15,
			scope:       models.SingleList(1),
			wantBand:    models.BandNoMatch,
		},
		{
			name:        "zero list price",
			encoder:     true,
			description: "Promo item",
			price:       1.50,
			scope:       models.SingleList(2),
			wantRow:     int64Ptr(3),
			wantSource:  sourcePtr(models.MatchSourceSemantic),
			wantPercent: floatPtr(100.0),
			wantBand:    models.BandReview,
		},
		{
			name:        "zero list price lexical",
			encoder:     false,
			description: "Promo item",
			price:       1.50,
			scope:       models.SingleList(2),
			wantRow:     int64Ptr(3),
			wantSource:  sourcePtr(models.MatchSourceSemantic),
			wantPercent: floatPtr(100.0),
			wantBand:    models.BandReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.encoder)
			f.store.addLine(100, 1, 1, tt.description, tt.code, tt.price)

			check, err := f.evaluation.EvaluateLine(context.Background(), 100, tt.scope, floatPtr(2.0))
			require.NoError(t, err)

			assert.Equal(t, tt.wantBand, check.Band)
			assert.Equal(t, tt.wantRow, check.ListRowID)
			assert.Equal(t, tt.wantSource, check.MatchSource)
			if tt.wantPercent != nil {
				require.NotNil(t, check.PercentDifference)
				assert.InDelta(t, *tt.wantPercent, *check.PercentDifference, 1e-9)
			} else {
				assert.Nil(t, check.PercentDifference)
				assert.Nil(t, check.ListPrice)
			}

			stored, err := (&fakeChecks{f.store}).GetByLine(context.Background(), 100)
			require.NoError(t, err)
			assert.Equal(t, check.Band, stored.Band)
		})
	}
}

func TestEvaluationService_UserOverrideBeatsAI(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.store.addLine(100, 1, 1, "cavo da 2 metri", "", 10.15)

	check, err := f.evaluation.EvaluateLine(ctx, 100, models.SingleList(1), nil)
	require.NoError(t, err)
	require.NotNil(t, check.ListRowID)
	assert.Equal(t, int64(1), *check.ListRowID)

	_, err = f.learning.RejectMatch(ctx, AssociationRequest{InvoiceDescription: "cavo da 2 metri", ListDescription: "Cable 2m", PriceListID: 1, OriginalConfidence: &check.Confidence})
	require.NoError(t, err)
	_, err = f.learning.ConfirmMatch(ctx, AssociationRequest{InvoiceDescription: "cavo da 2 metri", ListDescription: "Cable 5m", PriceListID: 1})
	require.NoError(t, err)

	check, err = f.evaluation.EvaluateLine(ctx, 100, models.SingleList(1), nil)
	require.NoError(t, err)
	require.NotNil(t, check.ListRowID)
	assert.Equal(t, int64(2), *check.ListRowID)
	assert.Equal(t, models.MatchSourceVerified, *check.MatchSource)
	assert.Equal(t, 1.0, check.Confidence)
	// 10.15 against 25.00 is far outside tolerance.
	assert.Equal(t, models.BandDiscrepancy, check.Band)
}

func TestEvaluationService_LowConfidenceSemanticIsNoMatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.store.addLine(100, 1, 1, "cavo da 2 metri", "", 10.15)

	// With row 1 rejected, the only candidate left scores about 0.33.
	_, err := f.learning.RejectMatch(ctx, AssociationRequest{InvoiceDescription: "cavo da 2 metri", ListDescription: "Cable 2m", PriceListID: 1})
	require.NoError(t, err)

	check, err := f.evaluation.EvaluateLine(ctx, 100, models.SingleList(1), nil)
	require.NoError(t, err)

	assert.Equal(t, models.BandNoMatch, check.Band)
	assert.Nil(t, check.ListRowID)
	require.NotNil(t, check.SuggestedRowID)
	assert.Equal(t, int64(2), *check.SuggestedRowID)
	assert.Less(t, check.Confidence, 0.70)
	assert.GreaterOrEqual(t, check.Confidence, 0.30)
}

func TestEvaluationService_ReEvaluationOverwrites(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.store.addLine(100, 1, 1, "cavo da 2 metri", "", 10.15)

	first, err := f.evaluation.EvaluateLine(ctx, 100, models.SingleList(1), nil)
	require.NoError(t, err)
	second, err := f.evaluation.EvaluateLine(ctx, 100, models.SingleList(1), floatPtr(1.0))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.BandReview, second.Band)
	assert.Len(t, f.store.checks, 1)
}

func TestEvaluationService_InvalidInput(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	tests := []struct {
		name      string
		line      *models.InvoiceLine
		tolerance *float64
	}{
		{"nil line", nil, nil},
		{"blank description", &models.InvoiceLine{ID: 1, Description: "  ", UnitPrice: 1}, nil},
		{"nan price", &models.InvoiceLine{ID: 1, Description: "Cable 2m", UnitPrice: math.NaN()}, nil},
		{"infinite price", &models.InvoiceLine{ID: 1, Description: "Cable 2m", UnitPrice: math.Inf(1)}, nil},
		{"negative tolerance", &models.InvoiceLine{ID: 1, Description: "Cable 2m", UnitPrice: 1}, floatPtr(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.evaluation.Evaluate(ctx, tt.line, models.SingleList(1), tt.tolerance)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
	assert.Empty(t, f.store.checks, "invalid input writes nothing")

	_, err := f.evaluation.EvaluateLine(ctx, 0, models.SingleList(1), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = f.evaluation.EvaluateLine(ctx, 404, models.SingleList(1), nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEvaluationService_InvalidScopeWritesNothing(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.store.addLine(100, 7, 1, "five-metre power cable", "A2", 26)
	f.store.addLine(101, 7, 2, "cavo da 2 metri", "", 10.15)
	line := &models.InvoiceLine{ID: 100, Description: "five-metre power cable", UnitPrice: 26}

	for _, listID := range []int64{0, -4} {
		scope := models.SingleList(listID)

		_, err := f.evaluation.Evaluate(ctx, line, scope, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = f.evaluation.EvaluateLine(ctx, 100, scope, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		summary, err := f.evaluation.EvaluateDocument(ctx, 7, scope, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Nil(t, summary)
	}

	summary, err := f.evaluation.EvaluateDocument(ctx, 7, models.AllActiveLists(), floatPtr(-0.5))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Nil(t, summary, "a bad tolerance fails the run instead of skipping every line")

	_, err = f.evaluation.EvaluateDocument(ctx, 0, models.AllActiveLists(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Empty(t, f.store.checks)
	assert.Equal(t, 0, f.store.listRowsCalls, "validation runs before matching")
}

func TestEvaluationService_EvaluateLineRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.addLine(100, 7, 1, "five-metre power cable", "A2", 26)
	f.store.upsertCheckErrs = []error{fmt.Errorf("%w: connection reset", apperrors.ErrStoreTransient)}

	check, err := f.evaluation.EvaluateLine(context.Background(), 100, models.SingleList(1), nil)
	require.NoError(t, err)
	assert.Equal(t, models.BandReview, check.Band)
	assert.Len(t, f.store.checks, 1)
	assert.Empty(t, f.store.upsertCheckErrs, "the failed write was retried")
}

func TestEvaluationService_EvaluateLineGivesUpOnRepeatedFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.addLine(100, 7, 1, "five-metre power cable", "A2", 26)
	transient := fmt.Errorf("%w: connection reset", apperrors.ErrStoreTransient)
	f.store.upsertCheckErrs = []error{transient, transient}

	_, err := f.evaluation.EvaluateLine(context.Background(), 100, models.SingleList(1), nil)
	assert.ErrorIs(t, err, apperrors.ErrStoreTransient)
	assert.Empty(t, f.store.checks)
}

func TestEvaluationService_Resolve(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	match, err := f.evaluation.Resolve(ctx, ResolveRequest{Description: "five-metre power cable", ArticleCode: strPtr("A2"), UnitPrice: 26, ListID: int64Ptr(1)})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, models.MatchSourceCode, match.Source)
	assert.Empty(t, f.store.checks, "resolve persists nothing")

	_, err = f.evaluation.Resolve(ctx, ResolveRequest{Description: ""})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = f.evaluation.Resolve(ctx, ResolveRequest{Description: "x", UnitPrice: math.NaN()})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = f.evaluation.Resolve(ctx, ResolveRequest{Description: "x", ListID: int64Ptr(-3)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestEvaluationService_EvaluateDocument(t *testing.T) {
	f := newFixture(t, true)
	f.store.addLine(101, 7, 2, "cavo da 2 metri", "", 10.15)
	f.store.addLine(100, 7, 1, "five-metre power cable", "A2", 26)
	f.store.addLine(102, 7, 3, "unknown gadget", "", 5)

	// The first write hits a transient failure and succeeds on retry.
	f.store.upsertCheckErrs = []error{fmt.Errorf("%w: connection reset", apperrors.ErrStoreTransient)}

	summary, err := f.evaluation.EvaluateDocument(context.Background(), 7, models.AllActiveLists(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 1, summary.Retried)
	assert.False(t, summary.Aborted)
	assert.Equal(t, 1, summary.Bands[models.BandReview])
	assert.Equal(t, 1, summary.Bands[models.BandOK])
	assert.Equal(t, 1, summary.Bands[models.BandNoMatch])
	assert.Len(t, f.store.checks, 3)
}

func TestEvaluationService_EvaluateDocumentAbortsOnPersistentFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.addLine(100, 7, 1, "five-metre power cable", "A2", 26)
	f.store.addLine(101, 7, 2, "cavo da 2 metri", "", 10.15)
	f.store.addLine(102, 7, 3, "Cable 2m", "", 10)

	transient := fmt.Errorf("%w: connection reset", apperrors.ErrStoreTransient)
	f.store.upsertCheckErrs = []error{nil, transient, transient}

	summary, err := f.evaluation.EvaluateDocument(context.Background(), 7, models.AllActiveLists(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreTransient)

	require.NotNil(t, summary)
	assert.True(t, summary.Aborted)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 1, summary.Retried)
	assert.NotEmpty(t, summary.AbortReason)

	// The line written before the failure is kept; nothing after it was written.
	assert.Len(t, f.store.checks, 1)
	_, ok := f.store.checks[100]
	assert.True(t, ok)
}

func TestEvaluationService_EvaluateDocumentEmpty(t *testing.T) {
	f := newFixture(t, true)

	summary, err := f.evaluation.EvaluateDocument(context.Background(), 99, models.AllActiveLists(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.False(t, summary.Aborted)
}

func sourcePtr(s models.MatchSource) *models.MatchSource { return &s }
