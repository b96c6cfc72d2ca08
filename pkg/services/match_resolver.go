package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/logging"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/repositories"
)

// SimilarityScorer scores two descriptions in [0,1].
type SimilarityScorer interface {
	// Score returns the similarity of a and b. degraded is true when the
	// score fell back to a weaker method because of a transient failure.
	Score(ctx context.Context, a, b string) (score float64, degraded bool)
	// Warm lets the scorer precompute whatever it needs for texts.
	Warm(ctx context.Context, texts []string)
}

// ResolverConfig holds the resolver thresholds.
type ResolverConfig struct {
	// AcceptanceFloor is the minimum semantic score for a match.
	AcceptanceFloor float64
	// CodeConfidenceFloor is the confidence an exact article-code hit never drops below.
	CodeConfidenceFloor float64
	// LearningEnabled turns verified overrides and rejected-pair suppression on.
	LearningEnabled bool
	// NegativeCacheTTL is how long a no-match outcome is remembered. Zero disables it.
	NegativeCacheTTL time.Duration
}

// DefaultResolverConfig returns the documented defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		AcceptanceFloor:     0.30,
		CodeConfidenceFloor: 0.90,
		LearningEnabled:     true,
		NegativeCacheTTL:    10 * time.Minute,
	}
}

// MatchResolver finds the single best price list row for an invoice description.
type MatchResolver interface {
	// FindBestMatch runs verified override, then article code, then semantic
	// nearest neighbour, and returns the first hit. A nil match with a nil
	// error means no candidate crossed the acceptance floor. Store errors are
	// returned, never swallowed.
	FindBestMatch(ctx context.Context, description string, scope models.ListScope, articleCode *string) (*models.Match, error)

	// Invalidate forgets cached no-match outcomes for description.
	Invalidate(description string)
}

type matchResolver struct {
	catalogue    repositories.CatalogueRepository
	associations repositories.VerifiedAssociationRepository
	scorer       SimilarityScorer
	cfg          ResolverConfig
	noMatch      *negativeCache
	logger       *zap.Logger
}

// NewMatchResolver creates a new MatchResolver.
func NewMatchResolver(
	catalogue repositories.CatalogueRepository,
	associations repositories.VerifiedAssociationRepository,
	scorer SimilarityScorer,
	cfg ResolverConfig,
	logger *zap.Logger,
) MatchResolver {
	return &matchResolver{
		catalogue:    catalogue,
		associations: associations,
		scorer:       scorer,
		cfg:          cfg,
		noMatch:      newNegativeCache(cfg.NegativeCacheTTL),
		logger:       logger.Named("match-resolver"),
	}
}

var _ MatchResolver = (*matchResolver)(nil)

func (r *matchResolver) FindBestMatch(ctx context.Context, description string, scope models.ListScope, articleCode *string) (*models.Match, error) {
	if err := requireText("description", description); err != nil {
		return nil, err
	}

	code := ""
	if articleCode != nil {
		code = strings.TrimSpace(*articleCode)
	}

	cacheKey := description + "\x00" + scope.Key() + "\x00" + code
	if r.noMatch.has(cacheKey) {
		return nil, nil
	}

	if r.cfg.LearningEnabled {
		row, err := r.associations.FindOverride(ctx, description, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to look up verified override: %w", err)
		}
		if row != nil {
			return models.NewMatch(row, 1.0, models.MatchSourceVerified), nil
		}
	}

	if code != "" {
		match, err := r.matchByCode(ctx, description, scope, code)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}

	match, degraded, err := r.matchSemantic(ctx, description, scope)
	if err != nil {
		return nil, err
	}
	// A no-match scored during an encoder outage may turn into a match once
	// the backend recovers, so only clean outcomes are remembered.
	if match == nil && !degraded {
		r.noMatch.add(cacheKey, description)
	}
	return match, nil
}

func (r *matchResolver) matchByCode(ctx context.Context, description string, scope models.ListScope, code string) (*models.Match, error) {
	rows, err := r.catalogue.FindByCode(ctx, scope, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up article code: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows) > 1 {
		r.logger.Debug("Article code found in several lists, using preferred list",
			zap.String("code", code),
			zap.Int("candidates", len(rows)),
			zap.Int64("price_list_id", rows[0].PriceListID))
	}

	row := rows[0]
	score, _ := r.scorer.Score(ctx, description, row.Description)
	confidence := max(r.cfg.CodeConfidenceFloor, score)
	return models.NewMatch(row, confidence, models.MatchSourceCode), nil
}

// matchSemantic returns the best row above the acceptance floor. degraded
// reports whether any candidate was scored in a degraded way.
func (r *matchResolver) matchSemantic(ctx context.Context, description string, scope models.ListScope) (match *models.Match, degraded bool, err error) {
	rows, err := r.catalogue.ListRows(ctx, scope)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load price list rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	rejected := map[models.RejectedPair]struct{}{}
	if r.cfg.LearningEnabled {
		pairs, err := r.associations.RejectedPairs(ctx, description)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load rejected pairs: %w", err)
		}
		for _, p := range pairs {
			rejected[p] = struct{}{}
		}
	}

	texts := make([]string, 0, len(rows)+1)
	texts = append(texts, description)
	for _, row := range rows {
		texts = append(texts, row.Description)
	}
	r.scorer.Warm(ctx, texts)

	// Rows arrive ordered by list id then row id; only a strictly higher score
	// replaces the current best, so equal scores resolve to the earliest row.
	var best *models.PriceListRow
	bestScore := -1.0
	for _, row := range rows {
		if _, skip := rejected[models.RejectedPair{PriceListID: row.PriceListID, ListDescription: row.Description}]; skip {
			continue
		}
		score, weak := r.scorer.Score(ctx, description, row.Description)
		degraded = degraded || weak
		if score > bestScore {
			best, bestScore = row, score
		}
	}

	if best == nil || bestScore < r.cfg.AcceptanceFloor {
		return nil, degraded, nil
	}
	return models.NewMatch(best, bestScore, models.MatchSourceSemantic), degraded, nil
}

func (r *matchResolver) Invalidate(description string) {
	if n := r.noMatch.invalidate(description); n > 0 {
		r.logger.Debug("Dropped cached no-match outcomes",
			zap.String("description", logging.SanitizeDescription(description)),
			zap.Int("entries", n))
	}
}
