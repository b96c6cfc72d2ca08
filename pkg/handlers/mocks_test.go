package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/services"
)

// mockEvaluationService records calls and returns configured results.
type mockEvaluationService struct {
	match     *models.Match
	check     *models.PriceCheck
	summary   *models.RunSummary
	err       error
	lastReq   services.ResolveRequest
	lastLine  int64
	lastDoc   int64
	lastScope models.ListScope
	lastTol   *float64
}

var _ services.EvaluationService = (*mockEvaluationService)(nil)

func (m *mockEvaluationService) Resolve(ctx context.Context, req services.ResolveRequest) (*models.Match, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.match, nil
}

func (m *mockEvaluationService) Evaluate(ctx context.Context, line *models.InvoiceLine, scope models.ListScope, tolerance *float64) (*models.PriceCheck, error) {
	m.lastScope = scope
	m.lastTol = tolerance
	if m.err != nil {
		return nil, m.err
	}
	return m.check, nil
}

func (m *mockEvaluationService) EvaluateLine(ctx context.Context, lineID int64, scope models.ListScope, tolerance *float64) (*models.PriceCheck, error) {
	m.lastLine = lineID
	m.lastScope = scope
	m.lastTol = tolerance
	if m.err != nil {
		return nil, m.err
	}
	return m.check, nil
}

func (m *mockEvaluationService) EvaluateDocument(ctx context.Context, documentID int64, scope models.ListScope, tolerance *float64) (*models.RunSummary, error) {
	m.lastDoc = documentID
	m.lastScope = scope
	m.lastTol = tolerance
	return m.summary, m.err
}

// mockLearningService returns configured results; saveFn overrides Save when set.
type mockLearningService struct {
	enabled      bool
	association  *models.VerifiedAssociation
	associations []*models.VerifiedAssociation
	stats        *models.LearningStatistics
	err          error
	lastVerdict  *bool
	lastReq      services.AssociationRequest
	lastFilter   models.AssociationFilter
	deletedID    uuid.UUID
}

var _ services.LearningService = (*mockLearningService)(nil)

func (m *mockLearningService) Enabled() bool {
	return m.enabled
}

func (m *mockLearningService) Save(ctx context.Context, req services.AssociationRequest, verdict bool) (*models.VerifiedAssociation, error) {
	m.lastReq = req
	m.lastVerdict = &verdict
	if m.err != nil {
		return nil, m.err
	}
	if !m.enabled {
		return nil, nil
	}
	return m.association, nil
}

func (m *mockLearningService) ConfirmMatch(ctx context.Context, req services.AssociationRequest) (*models.VerifiedAssociation, error) {
	return m.Save(ctx, req, true)
}

func (m *mockLearningService) RejectMatch(ctx context.Context, req services.AssociationRequest) (*models.VerifiedAssociation, error) {
	return m.Save(ctx, req, false)
}

func (m *mockLearningService) GetVerified(ctx context.Context, filter models.AssociationFilter) ([]*models.VerifiedAssociation, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return m.associations, nil
}

func (m *mockLearningService) Delete(ctx context.Context, id uuid.UUID) error {
	m.deletedID = id
	return m.err
}

func (m *mockLearningService) Statistics(ctx context.Context) (*models.LearningStatistics, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error {
	return p.err
}

type stubEncoder bool

func (e stubEncoder) Err() error {
	if e {
		return nil
	}
	return fmt.Errorf("%w: %s", apperrors.ErrEncoderUnavailable, "backend")
}
