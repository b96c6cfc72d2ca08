package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/pricing"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/repositories"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/retry"
)

// ResolveRequest is an invoice line to match without persisting anything.
type ResolveRequest struct {
	Description string  `json:"description" validate:"required,max=2000"`
	ArticleCode *string `json:"article_code,omitempty" validate:"omitempty,max=200"`
	UnitPrice   float64 `json:"unit_price"`
	ListID      *int64  `json:"list_id,omitempty" validate:"omitempty,gt=0"`
}

// EvaluationConfig holds the orchestration thresholds.
type EvaluationConfig struct {
	// TolerancePercent is used when a call does not supply its own tolerance.
	TolerancePercent float64
	// MinimumConfidence gates semantic matches: below it the line is NO_MATCH
	// and the candidate is only kept as a suggestion.
	MinimumConfidence float64
	// Retry is applied per line for transient store failures during a run.
	Retry *retry.Config
}

// DefaultEvaluationConfig returns the documented defaults.
func DefaultEvaluationConfig() EvaluationConfig {
	return EvaluationConfig{
		TolerancePercent:  pricing.DefaultTolerancePercent,
		MinimumConfidence: 0.70,
		Retry:             retry.OnceConfig(),
	}
}

// EvaluationService composes the resolver and the price comparator and
// persists one PriceCheck per invoice line.
type EvaluationService interface {
	// Resolve returns the best match for a line, or nil when there is none.
	Resolve(ctx context.Context, req ResolveRequest) (*models.Match, error)

	// Evaluate resolves line, compares prices and stores the verdict keyed by line id.
	// A nil tolerance uses the configured default.
	Evaluate(ctx context.Context, line *models.InvoiceLine, scope models.ListScope, tolerance *float64) (*models.PriceCheck, error)

	// EvaluateLine loads an invoice line by id and evaluates it.
	EvaluateLine(ctx context.Context, lineID int64, scope models.ListScope, tolerance *float64) (*models.PriceCheck, error)

	// EvaluateDocument evaluates every line of a document in line order.
	// A line failing with a transient store error is retried once; a persistent
	// failure stops the run, leaving verdicts already written in place.
	EvaluateDocument(ctx context.Context, documentID int64, scope models.ListScope, tolerance *float64) (*models.RunSummary, error)
}

type evaluationService struct {
	resolver MatchResolver
	lines    repositories.InvoiceLineRepository
	checks   repositories.PriceCheckRepository
	cfg      EvaluationConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewEvaluationService creates a new EvaluationService.
func NewEvaluationService(
	resolver MatchResolver,
	lines repositories.InvoiceLineRepository,
	checks repositories.PriceCheckRepository,
	cfg EvaluationConfig,
	logger *zap.Logger,
) EvaluationService {
	if cfg.Retry == nil {
		cfg.Retry = retry.OnceConfig()
	}
	return &evaluationService{
		resolver: resolver,
		lines:    lines,
		checks:   checks,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Named("evaluation"),
	}
}

var _ EvaluationService = (*evaluationService)(nil)

func (s *evaluationService) Resolve(ctx context.Context, req ResolveRequest) (*models.Match, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireFinite("unit_price", req.UnitPrice); err != nil {
		return nil, err
	}

	scope := models.AllActiveLists()
	if req.ListID != nil {
		scope = models.SingleList(*req.ListID)
	}
	return s.resolver.FindBestMatch(ctx, req.Description, scope, req.ArticleCode)
}

func (s *evaluationService) Evaluate(ctx context.Context, line *models.InvoiceLine, scope models.ListScope, tolerance *float64) (*models.PriceCheck, error) {
	if line == nil {
		return nil, fmt.Errorf("%w: invoice line is required", apperrors.ErrInvalidInput)
	}
	if err := validateStruct(line); err != nil {
		return nil, err
	}
	if err := requireText("description", line.Description); err != nil {
		return nil, err
	}
	if err := requireFinite("unit_price", line.UnitPrice); err != nil {
		return nil, err
	}

	tol, err := s.runParams(scope, tolerance)
	if err != nil {
		return nil, err
	}

	match, err := s.resolver.FindBestMatch(ctx, line.Description, scope, line.ArticleCode)
	if err != nil {
		return nil, err
	}

	check, err := s.verdict(line, match, tol)
	if err != nil {
		return nil, err
	}

	if err := s.checks.Upsert(ctx, check); err != nil {
		return nil, err
	}
	return check, nil
}

// runParams checks the scope and returns the effective tolerance.
func (s *evaluationService) runParams(scope models.ListScope, tolerance *float64) (float64, error) {
	if scope.ListID != nil && *scope.ListID <= 0 {
		return 0, fmt.Errorf("%w: list_id must be positive", apperrors.ErrInvalidInput)
	}

	tol := s.cfg.TolerancePercent
	if tolerance != nil {
		tol = *tolerance
	}
	if err := requireFinite("tolerance_percent", tol); err != nil {
		return 0, err
	}
	if tol < 0 {
		return 0, fmt.Errorf("%w: tolerance_percent must not be negative", apperrors.ErrInvalidInput)
	}
	return tol, nil
}

// verdict turns a resolver outcome into a PriceCheck without persisting it.
func (s *evaluationService) verdict(line *models.InvoiceLine, match *models.Match, tolerance float64) (*models.PriceCheck, error) {
	check := &models.PriceCheck{
		InvoiceLineID: line.ID,
		InvoicePrice:  line.UnitPrice,
		Band:          models.BandNoMatch,
		CheckedAt:     s.now().UTC(),
	}
	if match == nil {
		return check, nil
	}

	source := match.Source
	rowID := match.ListRowID
	check.Confidence = match.Confidence
	check.MatchSource = &source

	if match.Source == models.MatchSourceSemantic && match.Confidence < s.cfg.MinimumConfidence {
		check.SuggestedRowID = &rowID
		return check, nil
	}

	cmp, err := pricing.Compare(line.UnitPrice, match.ListPrice, tolerance)
	if err != nil {
		return nil, err
	}

	listPrice := match.ListPrice
	check.ListRowID = &rowID
	check.ListPrice = &listPrice
	check.Difference = &cmp.Difference
	check.PercentDifference = &cmp.PercentDifference
	check.Band = cmp.Band
	return check, nil
}

func (s *evaluationService) EvaluateLine(ctx context.Context, lineID int64, scope models.ListScope, tolerance *float64) (*models.PriceCheck, error) {
	if lineID <= 0 {
		return nil, fmt.Errorf("%w: invoice_line_id must be positive", apperrors.ErrInvalidInput)
	}

	if _, err := s.runParams(scope, tolerance); err != nil {
		return nil, err
	}

	var check *models.PriceCheck
	err := retry.DoIfRetryable(ctx, s.cfg.Retry, func() error {
		line, err := s.lines.GetByID(ctx, lineID)
		if err != nil {
			return err
		}
		check, err = s.Evaluate(ctx, line, scope, tolerance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}

func (s *evaluationService) EvaluateDocument(ctx context.Context, documentID int64, scope models.ListScope, tolerance *float64) (*models.RunSummary, error) {
	if documentID <= 0 {
		return nil, fmt.Errorf("%w: document_id must be positive", apperrors.ErrInvalidInput)
	}
	if _, err := s.runParams(scope, tolerance); err != nil {
		return nil, err
	}

	summary := &models.RunSummary{
		DocumentID: documentID,
		Bands:      map[models.Band]int{},
	}

	var lines []*models.InvoiceLine
	err := retry.DoIfRetryable(ctx, s.cfg.Retry, func() error {
		var err error
		lines, err = s.lines.GetByDocument(ctx, documentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	summary.Total = len(lines)

	for _, line := range lines {
		var check *models.PriceCheck
		attempts := 0
		err := retry.DoIfRetryable(ctx, s.cfg.Retry, func() error {
			attempts++
			var err error
			check, err = s.Evaluate(ctx, line, scope, tolerance)
			return err
		})
		if attempts > 1 {
			summary.Retried++
		}

		if errors.Is(err, apperrors.ErrInvalidInput) {
			s.logger.Warn("Skipping invalid invoice line",
				zap.Int64("document_id", documentID),
				zap.Int64("line_id", line.ID),
				zap.Error(err))
			summary.Skipped++
			continue
		}
		if err != nil {
			summary.Aborted = true
			summary.AbortReason = err.Error()
			s.logger.Error("Evaluation run aborted",
				zap.Int64("document_id", documentID),
				zap.Int64("line_id", line.ID),
				zap.Int("evaluated", summary.Evaluated),
				zap.Error(err))
			return summary, fmt.Errorf("evaluation of line %d failed: %w", line.ID, err)
		}

		summary.Evaluated++
		summary.Bands[check.Band]++
	}

	s.logger.Info("Evaluation run complete",
		zap.Int64("document_id", documentID),
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("retried", summary.Retried))
	return summary, nil
}
