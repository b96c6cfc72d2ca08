package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/database"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
)

// VerifiedAssociationRepository persists user judgements and answers the
// override and suppression queries of the resolver.
type VerifiedAssociationRepository interface {
	// Upsert inserts or replaces the association for its
	// (invoice description, list description, list) triple in one transaction.
	// verified_at never moves backwards. The stored id and verified_at are
	// written back into a.
	Upsert(ctx context.Context, a *models.VerifiedAssociation) error
	GetVerified(ctx context.Context, filter models.AssociationFilter) ([]*models.VerifiedAssociation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.VerifiedAssociation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Statistics(ctx context.Context) (*models.LearningStatistics, error)

	// FindOverride returns the list row of the most recently confirmed
	// association for description in scope, or nil when there is none.
	FindOverride(ctx context.Context, description string, scope models.ListScope) (*models.PriceListRow, error)
	// RejectedPairs returns every pair the user rejected for description.
	RejectedPairs(ctx context.Context, description string) ([]models.RejectedPair, error)
}

type verifiedAssociationRepository struct {
	db *database.DB
}

// NewVerifiedAssociationRepository creates a new VerifiedAssociationRepository.
func NewVerifiedAssociationRepository(db *database.DB) VerifiedAssociationRepository {
	return &verifiedAssociationRepository{db: db}
}

var _ VerifiedAssociationRepository = (*verifiedAssociationRepository)(nil)

const associationColumns = `id, invoice_description, list_article_code, list_description, price_list_id,
		       user_verdict, verified_at, original_confidence`

func (r *verifiedAssociationRepository) Upsert(ctx context.Context, a *models.VerifiedAssociation) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.VerifiedAt.IsZero() {
		a.VerifiedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO verified_associations (
			id, invoice_description, list_article_code, list_description, price_list_id,
			user_verdict, verified_at, original_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT verified_associations_triple_unique DO UPDATE SET
			list_article_code   = EXCLUDED.list_article_code,
			user_verdict        = EXCLUDED.user_verdict,
			verified_at         = GREATEST(verified_associations.verified_at, EXCLUDED.verified_at),
			original_confidence = EXCLUDED.original_confidence
		RETURNING id, verified_at`

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query,
			a.ID,
			a.InvoiceDescription,
			a.ListArticleCode,
			a.ListDescription,
			a.PriceListID,
			a.UserVerdict,
			a.VerifiedAt,
			a.OriginalConfidence,
		).Scan(&a.ID, &a.VerifiedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert verified association: %w", err)
	}
	return nil
}

func (r *verifiedAssociationRepository) GetVerified(ctx context.Context, filter models.AssociationFilter) ([]*models.VerifiedAssociation, error) {
	var conds []string
	var args []any

	if filter.InvoiceDescription != nil {
		args = append(args, *filter.InvoiceDescription)
		conds = append(conds, fmt.Sprintf("invoice_description = $%d", len(args)))
	}
	if filter.PriceListID != nil {
		args = append(args, *filter.PriceListID)
		conds = append(conds, fmt.Sprintf("price_list_id = $%d", len(args)))
	}
	if !filter.IncludeRejected {
		conds = append(conds, "user_verdict")
	}

	query := `SELECT ` + associationColumns + ` FROM verified_associations`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY verified_at DESC, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified associations: %w", database.ClassifyError(err))
	}
	defer rows.Close()

	var result []*models.VerifiedAssociation
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verified associations: %w", database.ClassifyError(err))
	}
	return result, nil
}

func (r *verifiedAssociationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VerifiedAssociation, error) {
	query := `SELECT ` + associationColumns + ` FROM verified_associations WHERE id = $1`

	a, err := scanAssociation(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *verifiedAssociationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var affected int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM verified_associations WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected = result.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete verified association: %w", err)
	}

	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *verifiedAssociationRepository) Statistics(ctx context.Context) (*models.LearningStatistics, error) {
	stats := &models.LearningStatistics{PerList: []models.ListStatistics{}}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE user_verdict),
		       COALESCE(AVG(original_confidence), 0)
		FROM verified_associations`,
	).Scan(&stats.Total, &stats.Correct, &stats.AverageOriginalConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to count verified associations: %w", database.ClassifyError(err))
	}

	stats.Wrong = stats.Total - stats.Correct
	if stats.Total > 0 {
		stats.AccuracyPercent = float64(stats.Correct) / float64(stats.Total) * 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT l.id, l.name, COUNT(*)
		FROM verified_associations va
		JOIN price_lists l ON l.id = va.price_list_id
		WHERE va.user_verdict
		GROUP BY l.id, l.name
		ORDER BY COUNT(*) DESC, l.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count verified associations per list: %w", database.ClassifyError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var ls models.ListStatistics
		if err := rows.Scan(&ls.PriceListID, &ls.ListName, &ls.CountCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan list statistics: %w", database.ClassifyError(err))
		}
		stats.PerList = append(stats.PerList, ls)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating list statistics: %w", database.ClassifyError(err))
	}
	return stats, nil
}

func (r *verifiedAssociationRepository) FindOverride(ctx context.Context, description string, scope models.ListScope) (*models.PriceListRow, error) {
	args := []any{description}
	where := "va.invoice_description = $1 AND va.user_verdict"
	if !scope.IsAll() {
		args = append(args, *scope.ListID)
		where += " AND va.price_list_id = $2"
	}

	// A list may hold the same description twice; prefer the row whose code
	// matches the one recorded with the association.
	query := `
		SELECT ` + rowColumns + `
		FROM verified_associations va
		JOIN price_list_rows r
		  ON r.price_list_id = va.price_list_id AND r.description = va.list_description
		WHERE ` + where + `
		ORDER BY va.verified_at DESC, va.id,
		         (r.article_code IS NOT DISTINCT FROM va.list_article_code) DESC, r.id
		LIMIT 1`

	row, err := scanPriceListRow(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verified override: %w", err)
	}
	return row, nil
}

func (r *verifiedAssociationRepository) RejectedPairs(ctx context.Context, description string) ([]models.RejectedPair, error) {
	rows, err := r.db.Query(ctx, `
		SELECT price_list_id, list_description
		FROM verified_associations
		WHERE invoice_description = $1 AND NOT user_verdict`, description)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejected pairs: %w", database.ClassifyError(err))
	}
	defer rows.Close()

	var pairs []models.RejectedPair
	for rows.Next() {
		var p models.RejectedPair
		if err := rows.Scan(&p.PriceListID, &p.ListDescription); err != nil {
			return nil, fmt.Errorf("failed to scan rejected pair: %w", database.ClassifyError(err))
		}
		pairs = append(pairs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rejected pairs: %w", database.ClassifyError(err))
	}
	return pairs, nil
}

func scanAssociation(row pgx.Row) (*models.VerifiedAssociation, error) {
	var a models.VerifiedAssociation
	err := row.Scan(
		&a.ID,
		&a.InvoiceDescription,
		&a.ListArticleCode,
		&a.ListDescription,
		&a.PriceListID,
		&a.UserVerdict,
		&a.VerifiedAt,
		&a.OriginalConfidence,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan verified association: %w", database.ClassifyError(err))
	}
	return &a, nil
}
