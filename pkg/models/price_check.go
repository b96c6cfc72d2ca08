package models

import (
	"time"

	"github.com/google/uuid"
)

// Band is the categorical verdict for an invoice line.
type Band string

const (
	BandOK          Band = "OK"
	BandReview      Band = "REVIEW"
	BandDiscrepancy Band = "DISCREPANCY"
	// BandNoMatch is only set by orchestration, never by the price comparator.
	BandNoMatch Band = "NO_MATCH"
)

// IsValid returns true if b is a known band.
func (b Band) IsValid() bool {
	switch b {
	case BandOK, BandReview, BandDiscrepancy, BandNoMatch:
		return true
	}
	return false
}

// PriceCheck is the persisted verdict for one invoice line. Stored in price_checks,
// keyed by invoice line: re-evaluation overwrites.
type PriceCheck struct {
	ID            uuid.UUID `json:"id"`
	InvoiceLineID int64     `json:"invoice_line_id"`
	ListRowID     *int64    `json:"list_row_id,omitempty"`
	// SuggestedRowID holds a semantic candidate that stayed below the minimum
	// confidence; ListRowID is nil in that case.
	SuggestedRowID    *int64       `json:"suggested_row_id,omitempty"`
	InvoicePrice      float64      `json:"invoice_price"`
	ListPrice         *float64     `json:"list_price,omitempty"`
	Difference        *float64     `json:"difference,omitempty"`
	PercentDifference *float64     `json:"percent_difference,omitempty"`
	Confidence        float64      `json:"confidence"`
	Band              Band         `json:"band"`
	MatchSource       *MatchSource `json:"match_source,omitempty"`
	CheckedAt         time.Time    `json:"checked_at"`
}

// RunSummary reports the outcome of evaluating every line of a document.
type RunSummary struct {
	DocumentID  int64        `json:"document_id"`
	Evaluated   int          `json:"evaluated"`
	Total       int          `json:"total"`
	Bands       map[Band]int `json:"bands"`
	Skipped     int          `json:"skipped"`
	Retried     int          `json:"retried"`
	Aborted     bool         `json:"aborted"`
	AbortReason string       `json:"abort_reason,omitempty"`
}
