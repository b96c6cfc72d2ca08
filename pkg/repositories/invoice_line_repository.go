package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/database"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
)

// InvoiceLineRepository reads invoice lines written by the import pipeline.
type InvoiceLineRepository interface {
	GetByID(ctx context.Context, lineID int64) (*models.InvoiceLine, error)
	// GetByDocument returns the lines of a document in line-number order.
	GetByDocument(ctx context.Context, documentID int64) ([]*models.InvoiceLine, error)
}

type invoiceLineRepository struct {
	db *database.DB
}

// NewInvoiceLineRepository creates a new InvoiceLineRepository.
func NewInvoiceLineRepository(db *database.DB) InvoiceLineRepository {
	return &invoiceLineRepository{db: db}
}

var _ InvoiceLineRepository = (*invoiceLineRepository)(nil)

const invoiceLineColumns = `id, document_id, line_number, description, article_code, unit_price, quantity, unit_of_measure, line_total`

func (r *invoiceLineRepository) GetByID(ctx context.Context, lineID int64) (*models.InvoiceLine, error) {
	query := `SELECT ` + invoiceLineColumns + ` FROM invoice_lines WHERE id = $1`

	line, err := scanInvoiceLine(r.db.QueryRow(ctx, query, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (r *invoiceLineRepository) GetByDocument(ctx context.Context, documentID int64) ([]*models.InvoiceLine, error) {
	query := `
		SELECT ` + invoiceLineColumns + `
		FROM invoice_lines
		WHERE document_id = $1
		ORDER BY line_number, id`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", database.ClassifyError(err))
	}
	defer rows.Close()

	var lines []*models.InvoiceLine
	for rows.Next() {
		line, err := scanInvoiceLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice lines: %w", database.ClassifyError(err))
	}
	return lines, nil
}

func scanInvoiceLine(row pgx.Row) (*models.InvoiceLine, error) {
	var l models.InvoiceLine
	err := row.Scan(
		&l.ID,
		&l.DocumentID,
		&l.LineNumber,
		&l.Description,
		&l.ArticleCode,
		&l.UnitPrice,
		&l.Quantity,
		&l.UnitOfMeasure,
		&l.LineTotal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice line: %w", database.ClassifyError(err))
	}
	return &l, nil
}
