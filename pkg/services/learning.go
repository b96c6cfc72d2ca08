package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/logging"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/repositories"
)

// AssociationRequest identifies a (invoice description, list row) pair the user judged.
type AssociationRequest struct {
	InvoiceDescription string   `json:"invoice_description" validate:"required,max=2000"`
	ListDescription    string   `json:"list_description" validate:"required,max=2000"`
	PriceListID        int64    `json:"price_list_id" validate:"required,gt=0"`
	ListArticleCode    *string  `json:"list_article_code,omitempty" validate:"omitempty,max=200"`
	OriginalConfidence *float64 `json:"original_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// CacheInvalidator drops cached resolver outcomes for an invoice description.
type CacheInvalidator interface {
	Invalidate(description string)
}

// LearningService persists user judgements on matches. Confirmed pairs become
// hard overrides for the resolver, rejected pairs are suppressed from
// semantic results.
type LearningService interface {
	// Save upserts the judgement for the request's triple and returns the
	// stored association. When learning is disabled it is a no-op returning nil.
	Save(ctx context.Context, req AssociationRequest, verdict bool) (*models.VerifiedAssociation, error)
	ConfirmMatch(ctx context.Context, req AssociationRequest) (*models.VerifiedAssociation, error)
	RejectMatch(ctx context.Context, req AssociationRequest) (*models.VerifiedAssociation, error)

	GetVerified(ctx context.Context, filter models.AssociationFilter) ([]*models.VerifiedAssociation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Statistics(ctx context.Context) (*models.LearningStatistics, error)

	// Enabled reports whether judgements are being recorded.
	Enabled() bool
}

type learningService struct {
	repo        repositories.VerifiedAssociationRepository
	invalidator CacheInvalidator
	enabled     bool
	now         func() time.Time
	logger      *zap.Logger
}

// NewLearningService creates a new LearningService. invalidator may be nil.
func NewLearningService(
	repo repositories.VerifiedAssociationRepository,
	invalidator CacheInvalidator,
	enabled bool,
	logger *zap.Logger,
) LearningService {
	return &learningService{
		repo:        repo,
		invalidator: invalidator,
		enabled:     enabled,
		now:         time.Now,
		logger:      logger.Named("learning"),
	}
}

var _ LearningService = (*learningService)(nil)

func (s *learningService) Enabled() bool {
	return s.enabled
}

func (s *learningService) Save(ctx context.Context, req AssociationRequest, verdict bool) (*models.VerifiedAssociation, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireText("invoice_description", req.InvoiceDescription); err != nil {
		return nil, err
	}
	if err := requireText("list_description", req.ListDescription); err != nil {
		return nil, err
	}
	if req.OriginalConfidence != nil {
		if err := requireFinite("original_confidence", *req.OriginalConfidence); err != nil {
			return nil, err
		}
	}

	if !s.enabled {
		s.logger.Debug("Learning disabled, judgement not recorded",
			zap.String("invoice_description", logging.SanitizeDescription(req.InvoiceDescription)))
		return nil, nil
	}

	a := &models.VerifiedAssociation{
		InvoiceDescription: req.InvoiceDescription,
		ListArticleCode:    req.ListArticleCode,
		ListDescription:    req.ListDescription,
		PriceListID:        req.PriceListID,
		UserVerdict:        verdict,
		VerifiedAt:         s.now().UTC(),
		OriginalConfidence: req.OriginalConfidence,
	}
	if err := s.repo.Upsert(ctx, a); err != nil {
		s.logger.Error("Failed to save verified association",
			zap.String("invoice_description", logging.SanitizeDescription(req.InvoiceDescription)),
			zap.Int64("price_list_id", req.PriceListID),
			zap.Error(err))
		return nil, err
	}

	s.invalidate(a.InvoiceDescription)

	s.logger.Info("Recorded match judgement",
		zap.String("id", a.ID.String()),
		zap.Bool("verdict", verdict),
		zap.Int64("price_list_id", a.PriceListID))
	return a, nil
}

func (s *learningService) ConfirmMatch(ctx context.Context, req AssociationRequest) (*models.VerifiedAssociation, error) {
	return s.Save(ctx, req, true)
}

func (s *learningService) RejectMatch(ctx context.Context, req AssociationRequest) (*models.VerifiedAssociation, error) {
	return s.Save(ctx, req, false)
}

func (s *learningService) GetVerified(ctx context.Context, filter models.AssociationFilter) ([]*models.VerifiedAssociation, error) {
	if filter.PriceListID != nil && *filter.PriceListID <= 0 {
		return nil, fmt.Errorf("%w: list_id must be positive", apperrors.ErrInvalidInput)
	}

	result, err := s.repo.GetVerified(ctx, filter)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []*models.VerifiedAssociation{}
	}
	return result, nil
}

func (s *learningService) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: association id is required", apperrors.ErrInvalidInput)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Error("Failed to delete verified association",
				zap.String("id", id.String()),
				zap.Error(err))
		}
		return err
	}

	s.invalidate(a.InvoiceDescription)
	s.logger.Info("Deleted verified association", zap.String("id", id.String()))
	return nil
}

func (s *learningService) Statistics(ctx context.Context) (*models.LearningStatistics, error) {
	return s.repo.Statistics(ctx)
}

// invalidate runs only after the write committed.
func (s *learningService) invalidate(description string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(description)
	}
}
