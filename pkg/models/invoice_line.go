package models

import "strconv"

// InvoiceLine is a line of an imported supplier invoice. Matching only reads it.
type InvoiceLine struct {
	ID            int64   `json:"id"`
	DocumentID    int64   `json:"document_id"`
	LineNumber    int     `json:"line_number"`
	Description   string  `json:"description" validate:"required,max=2000"`
	ArticleCode   *string `json:"article_code,omitempty" validate:"omitempty,max=200"`
	UnitPrice     float64 `json:"unit_price"`
	Quantity      float64 `json:"quantity"`
	UnitOfMeasure *string `json:"unit_of_measure,omitempty"`
	LineTotal     float64 `json:"line_total"`
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
