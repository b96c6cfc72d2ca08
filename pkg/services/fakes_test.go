package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/repositories"
)

// fakeStore is an in-memory stand-in for the Postgres tables, with the same
// ordering and upsert rules as the pgx repositories. Error fields inject
// failures into the next matching call.
type fakeStore struct {
	mu           sync.Mutex
	lists        map[int64]*models.PriceList
	rows         []*models.PriceListRow
	lines        []*models.InvoiceLine
	associations []*models.VerifiedAssociation
	checks       map[int64]*models.PriceCheck

	listRowsCalls   int
	listRowsErr     error
	findOverrideErr error
	upsertCheckErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lists:  map[int64]*models.PriceList{},
		checks: map[int64]*models.PriceCheck{},
	}
}

func (s *fakeStore) addList(id int64, name string, active bool, validFrom *time.Time) {
	s.lists[id] = &models.PriceList{ID: id, Name: name, IsActive: active, ValidFrom: validFrom}
}

func (s *fakeStore) addRow(id, listID int64, code, desc string, price float64) {
	row := &models.PriceListRow{ID: id, PriceListID: listID, Description: desc, UnitPrice: price}
	if code != "" {
		row.ArticleCode = &code
	}
	s.rows = append(s.rows, row)
}

func (s *fakeStore) addLine(id, documentID int64, number int, desc, code string, price float64) {
	line := &models.InvoiceLine{ID: id, DocumentID: documentID, LineNumber: number, Description: desc, UnitPrice: price, Quantity: 1}
	if code != "" {
		line.ArticleCode = &code
	}
	s.lines = append(s.lines, line)
}

func (s *fakeStore) inScope(row *models.PriceListRow, scope models.ListScope) bool {
	if scope.IsAll() {
		l := s.lists[row.PriceListID]
		return l != nil && l.IsActive
	}
	return row.PriceListID == *scope.ListID
}

func sortRows(rows []*models.PriceListRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PriceListID != rows[j].PriceListID {
			return rows[i].PriceListID < rows[j].PriceListID
		}
		return rows[i].ID < rows[j].ID
	})
}

// ============================================================================
// Catalogue
// ============================================================================

type fakeCatalogue struct{ s *fakeStore }

var _ repositories.CatalogueRepository = (*fakeCatalogue)(nil)

func (c *fakeCatalogue) ListRows(_ context.Context, scope models.ListScope) ([]*models.PriceListRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	c.s.listRowsCalls++
	if c.s.listRowsErr != nil {
		return nil, c.s.listRowsErr
	}

	var out []*models.PriceListRow
	for _, r := range c.s.rows {
		if c.s.inScope(r, scope) {
			out = append(out, r)
		}
	}
	sortRows(out)
	return out, nil
}

func (c *fakeCatalogue) FindByCode(_ context.Context, scope models.ListScope, code string) ([]*models.PriceListRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	var out []*models.PriceListRow
	for _, r := range c.s.rows {
		if r.ArticleCode != nil && *r.ArticleCode == code && c.s.inScope(r, scope) {
			out = append(out, r)
		}
	}

	sortRows(out)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := c.s.lists[out[i].PriceListID], c.s.lists[out[j].PriceListID]
		if li.IsActive != lj.IsActive {
			return li.IsActive
		}
		switch {
		case li.ValidFrom == nil && lj.ValidFrom == nil:
			return false
		case li.ValidFrom == nil:
			return false
		case lj.ValidFrom == nil:
			return true
		default:
			return li.ValidFrom.After(*lj.ValidFrom)
		}
	})
	return out, nil
}

// ============================================================================
// Verified associations
// ============================================================================

type fakeAssociations struct{ s *fakeStore }

var _ repositories.VerifiedAssociationRepository = (*fakeAssociations)(nil)

func (f *fakeAssociations) Upsert(_ context.Context, a *models.VerifiedAssociation) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if _, ok := f.s.lists[a.PriceListID]; !ok {
		return apperrors.ErrStoreIntegrity
	}

	for _, existing := range f.s.associations {
		if existing.InvoiceDescription == a.InvoiceDescription &&
			existing.ListDescription == a.ListDescription &&
			existing.PriceListID == a.PriceListID {
			existing.ListArticleCode = a.ListArticleCode
			existing.UserVerdict = a.UserVerdict
			existing.OriginalConfidence = a.OriginalConfidence
			if a.VerifiedAt.After(existing.VerifiedAt) {
				existing.VerifiedAt = a.VerifiedAt
			}
			a.ID, a.VerifiedAt = existing.ID, existing.VerifiedAt
			return nil
		}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	stored := *a
	f.s.associations = append(f.s.associations, &stored)
	return nil
}

func (f *fakeAssociations) GetVerified(_ context.Context, filter models.AssociationFilter) ([]*models.VerifiedAssociation, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var out []*models.VerifiedAssociation
	for _, a := range f.s.associations {
		if filter.InvoiceDescription != nil && a.InvoiceDescription != *filter.InvoiceDescription {
			continue
		}
		if filter.PriceListID != nil && a.PriceListID != *filter.PriceListID {
			continue
		}
		if !filter.IncludeRejected && !a.UserVerdict {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].VerifiedAt.After(out[j].VerifiedAt) })
	return out, nil
}

func (f *fakeAssociations) GetByID(_ context.Context, id uuid.UUID) (*models.VerifiedAssociation, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, a := range f.s.associations {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeAssociations) Delete(_ context.Context, id uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for i, a := range f.s.associations {
		if a.ID == id {
			f.s.associations = append(f.s.associations[:i], f.s.associations[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeAssociations) Statistics(_ context.Context) (*models.LearningStatistics, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	stats := &models.LearningStatistics{PerList: []models.ListStatistics{}}
	perList := map[int64]int{}
	var confSum float64
	var confN int
	for _, a := range f.s.associations {
		stats.Total++
		if a.UserVerdict {
			stats.Correct++
			perList[a.PriceListID]++
		}
		if a.OriginalConfidence != nil {
			confSum += *a.OriginalConfidence
			confN++
		}
	}
	stats.Wrong = stats.Total - stats.Correct
	if stats.Total > 0 {
		stats.AccuracyPercent = float64(stats.Correct) / float64(stats.Total) * 100
	}
	if confN > 0 {
		stats.AverageOriginalConfidence = confSum / float64(confN)
	}
	for id, n := range perList {
		stats.PerList = append(stats.PerList, models.ListStatistics{PriceListID: id, ListName: f.s.lists[id].Name, CountCorrect: n})
	}
	return stats, nil
}

func (f *fakeAssociations) FindOverride(_ context.Context, description string, scope models.ListScope) (*models.PriceListRow, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if f.s.findOverrideErr != nil {
		return nil, f.s.findOverrideErr
	}

	var best *models.VerifiedAssociation
	for _, a := range f.s.associations {
		if a.InvoiceDescription != description || !a.UserVerdict {
			continue
		}
		if !scope.IsAll() && a.PriceListID != *scope.ListID {
			continue
		}
		if best == nil || a.VerifiedAt.After(best.VerifiedAt) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}

	var candidates []*models.PriceListRow
	for _, r := range f.s.rows {
		if r.PriceListID == best.PriceListID && r.Description == best.ListDescription {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortRows(candidates)
	return candidates[0], nil
}

func (f *fakeAssociations) RejectedPairs(_ context.Context, description string) ([]models.RejectedPair, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var out []models.RejectedPair
	for _, a := range f.s.associations {
		if a.InvoiceDescription == description && !a.UserVerdict {
			out = append(out, models.RejectedPair{PriceListID: a.PriceListID, ListDescription: a.ListDescription})
		}
	}
	return out, nil
}

// ============================================================================
// Invoice lines and price checks
// ============================================================================

type fakeLines struct{ s *fakeStore }

var _ repositories.InvoiceLineRepository = (*fakeLines)(nil)

func (f *fakeLines) GetByID(_ context.Context, lineID int64) (*models.InvoiceLine, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.lines {
		if l.ID == lineID {
			return l, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeLines) GetByDocument(_ context.Context, documentID int64) ([]*models.InvoiceLine, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var out []*models.InvoiceLine
	for _, l := range f.s.lines {
		if l.DocumentID == documentID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out, nil
}

type fakeChecks struct{ s *fakeStore }

var _ repositories.PriceCheckRepository = (*fakeChecks)(nil)

func (f *fakeChecks) Upsert(_ context.Context, pc *models.PriceCheck) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if len(f.s.upsertCheckErrs) > 0 {
		err := f.s.upsertCheckErrs[0]
		f.s.upsertCheckErrs = f.s.upsertCheckErrs[1:]
		if err != nil {
			return err
		}
	}

	if existing, ok := f.s.checks[pc.InvoiceLineID]; ok {
		pc.ID = existing.ID
	} else if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	stored := *pc
	f.s.checks[pc.InvoiceLineID] = &stored
	return nil
}

func (f *fakeChecks) GetByLine(_ context.Context, lineID int64) (*models.PriceCheck, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if pc, ok := f.s.checks[lineID]; ok {
		return pc, nil
	}
	return nil, apperrors.ErrNotFound
}

// ============================================================================
// Similarity
// ============================================================================

// vectorEncoder serves fixed vectors per lowercased text.
type vectorEncoder struct {
	available bool
	vectors   map[string][]float32
}

func (e *vectorEncoder) IsAvailable() bool { return e.available }

func (e *vectorEncoder) Encode(_ context.Context, text string) ([]float32, bool) {
	v, ok := e.vectors[strings.ToLower(strings.TrimSpace(text))]
	return v, ok
}

func (e *vectorEncoder) Warm(_ context.Context, texts []string) int { return 0 }

// countingScorer records how many pairs were scored.
type countingScorer struct {
	inner  SimilarityScorer
	scored int
	warmed int
}

func (c *countingScorer) Score(ctx context.Context, a, b string) (float64, bool) {
	c.scored++
	return c.inner.Score(ctx, a, b)
}

func (c *countingScorer) Warm(ctx context.Context, texts []string) {
	c.warmed++
	c.inner.Warm(ctx, texts)
}

// recordingInvalidator records invalidated descriptions.
type recordingInvalidator struct {
	descriptions []string
}

func (r *recordingInvalidator) Invalidate(description string) {
	r.descriptions = append(r.descriptions, description)
}
