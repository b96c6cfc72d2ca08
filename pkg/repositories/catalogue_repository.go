package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/database"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
)

// CatalogueRepository reads price lists and their rows. Matching never writes
// to the catalogue.
type CatalogueRepository interface {
	// ListRows returns every row in scope ordered by list id then row id.
	ListRows(ctx context.Context, scope models.ListScope) ([]*models.PriceListRow, error)
	// FindByCode returns the rows in scope with exactly this article code,
	// preferred first: active lists, latest validity window, then list id and row id.
	FindByCode(ctx context.Context, scope models.ListScope, code string) ([]*models.PriceListRow, error)
}

type catalogueRepository struct {
	db *database.DB
}

// NewCatalogueRepository creates a new CatalogueRepository.
func NewCatalogueRepository(db *database.DB) CatalogueRepository {
	return &catalogueRepository{db: db}
}

var _ CatalogueRepository = (*catalogueRepository)(nil)

const rowColumns = `r.id, r.price_list_id, r.article_code, r.description, r.unit_price, r.unit_of_measure, r.notes`

// scopeClause restricts rows to the scope: one list by id, or every active list.
// The single-list form takes its id as parameter $n.
func scopeClause(scope models.ListScope, n int) (string, []any) {
	if scope.IsAll() {
		return "l.is_active", nil
	}
	return fmt.Sprintf("r.price_list_id = $%d", n), []any{*scope.ListID}
}

func (r *catalogueRepository) ListRows(ctx context.Context, scope models.ListScope) ([]*models.PriceListRow, error) {
	where, args := scopeClause(scope, 1)

	query := `
		SELECT ` + rowColumns + `
		FROM price_list_rows r
		JOIN price_lists l ON l.id = r.price_list_id
		WHERE ` + where + `
		ORDER BY r.price_list_id, r.id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price list rows: %w", database.ClassifyError(err))
	}
	return collectRows(rows)
}

func (r *catalogueRepository) FindByCode(ctx context.Context, scope models.ListScope, code string) ([]*models.PriceListRow, error) {
	where, args := scopeClause(scope, 2)

	query := `
		SELECT ` + rowColumns + `
		FROM price_list_rows r
		JOIN price_lists l ON l.id = r.price_list_id
		WHERE r.article_code = $1 AND ` + where + `
		ORDER BY l.is_active DESC, l.valid_from DESC NULLS LAST, r.price_list_id, r.id`

	rows, err := r.db.Query(ctx, query, append([]any{code}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price list rows by code: %w", database.ClassifyError(err))
	}
	return collectRows(rows)
}

// ============================================================================
// Helper Functions
// ============================================================================

func collectRows(rows pgx.Rows) ([]*models.PriceListRow, error) {
	defer rows.Close()

	var result []*models.PriceListRow
	for rows.Next() {
		row, err := scanPriceListRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price list rows: %w", database.ClassifyError(err))
	}
	return result, nil
}

func scanPriceListRow(row pgx.Row) (*models.PriceListRow, error) {
	var r models.PriceListRow
	err := row.Scan(
		&r.ID,
		&r.PriceListID,
		&r.ArticleCode,
		&r.Description,
		&r.UnitPrice,
		&r.UnitOfMeasure,
		&r.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan price list row: %w", database.ClassifyError(err))
	}
	return &r, nil
}
