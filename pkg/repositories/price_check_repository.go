package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/database"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
)

// PriceCheckRepository stores one verdict per invoice line.
type PriceCheckRepository interface {
	// Upsert writes pc, replacing any earlier verdict for the same invoice line.
	// The stored id is written back into pc.
	Upsert(ctx context.Context, pc *models.PriceCheck) error
	GetByLine(ctx context.Context, invoiceLineID int64) (*models.PriceCheck, error)
}

type priceCheckRepository struct {
	db *database.DB
}

// NewPriceCheckRepository creates a new PriceCheckRepository.
func NewPriceCheckRepository(db *database.DB) PriceCheckRepository {
	return &priceCheckRepository{db: db}
}

var _ PriceCheckRepository = (*priceCheckRepository)(nil)

func (r *priceCheckRepository) Upsert(ctx context.Context, pc *models.PriceCheck) error {
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	if pc.CheckedAt.IsZero() {
		pc.CheckedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO price_checks (
			id, invoice_line_id, list_row_id, suggested_row_id, invoice_price, list_price,
			difference, percent_difference, confidence, band, match_source, checked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ON CONSTRAINT price_checks_line_unique DO UPDATE SET
			list_row_id        = EXCLUDED.list_row_id,
			suggested_row_id   = EXCLUDED.suggested_row_id,
			invoice_price      = EXCLUDED.invoice_price,
			list_price         = EXCLUDED.list_price,
			difference         = EXCLUDED.difference,
			percent_difference = EXCLUDED.percent_difference,
			confidence         = EXCLUDED.confidence,
			band               = EXCLUDED.band,
			match_source       = EXCLUDED.match_source,
			checked_at         = EXCLUDED.checked_at
		RETURNING id`

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query,
			pc.ID,
			pc.InvoiceLineID,
			pc.ListRowID,
			pc.SuggestedRowID,
			pc.InvoicePrice,
			pc.ListPrice,
			pc.Difference,
			pc.PercentDifference,
			pc.Confidence,
			string(pc.Band),
			sourceValue(pc.MatchSource),
			pc.CheckedAt,
		).Scan(&pc.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to save price check: %w", err)
	}
	return nil
}

func (r *priceCheckRepository) GetByLine(ctx context.Context, invoiceLineID int64) (*models.PriceCheck, error) {
	query := `
		SELECT id, invoice_line_id, list_row_id, suggested_row_id, invoice_price, list_price,
		       difference, percent_difference, confidence, band, match_source, checked_at
		FROM price_checks
		WHERE invoice_line_id = $1`

	var pc models.PriceCheck
	var band string
	var source *string
	err := r.db.QueryRow(ctx, query, invoiceLineID).Scan(
		&pc.ID,
		&pc.InvoiceLineID,
		&pc.ListRowID,
		&pc.SuggestedRowID,
		&pc.InvoicePrice,
		&pc.ListPrice,
		&pc.Difference,
		&pc.PercentDifference,
		&pc.Confidence,
		&band,
		&source,
		&pc.CheckedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price check: %w", database.ClassifyError(err))
	}

	pc.Band = models.Band(band)
	if source != nil {
		s := models.MatchSource(*source)
		pc.MatchSource = &s
	}
	return &pc, nil
}

func sourceValue(s *models.MatchSource) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
