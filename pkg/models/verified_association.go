package models

import (
	"time"

	"github.com/google/uuid"
)

// VerifiedAssociation is a user judgement on an invoice description -> list row pair.
// At most one exists per (InvoiceDescription, ListDescription, PriceListID); saving the
// same triple again replaces it. UserVerdict=true is a hard override for the resolver,
// false suppresses the pair from semantic results.
type VerifiedAssociation struct {
	ID                 uuid.UUID `json:"id"`
	InvoiceDescription string    `json:"invoice_description"`
	ListArticleCode    *string   `json:"list_article_code,omitempty"`
	ListDescription    string    `json:"list_description"`
	PriceListID        int64     `json:"price_list_id"`
	UserVerdict        bool      `json:"user_verdict"`
	VerifiedAt         time.Time `json:"verified_at"`
	// OriginalConfidence is the score the resolver reported when the user decided.
	OriginalConfidence *float64 `json:"original_confidence,omitempty"`
}

// AssociationFilter narrows GetVerified. Filters are conjunctive. The zero
// value lists confirmed associations only.
type AssociationFilter struct {
	InvoiceDescription *string
	PriceListID        *int64
	IncludeRejected    bool
}

// LearningStatistics summarises the verified association table.
type LearningStatistics struct {
	Total                     int              `json:"total"`
	Correct                   int              `json:"correct"`
	Wrong                     int              `json:"wrong"`
	AccuracyPercent           float64          `json:"accuracy_percent"`
	AverageOriginalConfidence float64          `json:"average_original_confidence"`
	PerList                   []ListStatistics `json:"per_list"`
}

// ListStatistics counts confirmed associations for one price list.
type ListStatistics struct {
	PriceListID  int64  `json:"price_list_id"`
	ListName     string `json:"list_name"`
	CountCorrect int    `json:"count_correct"`
}

// RejectedPair is a (list, list description) the user rejected for an invoice description.
type RejectedPair struct {
	PriceListID     int64
	ListDescription string
}
