package models

// MatchSource records which resolver rule produced a match.
type MatchSource string

const (
	MatchSourceVerified MatchSource = "verified"
	MatchSourceCode     MatchSource = "code"
	MatchSourceSemantic MatchSource = "semantic"
)

// IsValid returns true if s is a known match source.
func (s MatchSource) IsValid() bool {
	switch s {
	case MatchSourceVerified, MatchSourceCode, MatchSourceSemantic:
		return true
	}
	return false
}

// Match is the resolver's single best candidate for an invoice description.
type Match struct {
	ListRowID       int64       `json:"list_row_id"`
	PriceListID     int64       `json:"price_list_id"`
	ListDescription string      `json:"list_description"`
	ListPrice       float64     `json:"list_price"`
	ListArticleCode *string     `json:"list_article_code,omitempty"`
	UnitOfMeasure   *string     `json:"unit_of_measure,omitempty"`
	Confidence      float64     `json:"confidence"`
	Source          MatchSource `json:"source"`
}

// NewMatch builds a Match from a catalogue row.
func NewMatch(row *PriceListRow, confidence float64, source MatchSource) *Match {
	return &Match{
		ListRowID:       row.ID,
		PriceListID:     row.PriceListID,
		ListDescription: row.Description,
		ListPrice:       row.UnitPrice,
		ListArticleCode: row.ArticleCode,
		UnitOfMeasure:   row.UnitOfMeasure,
		Confidence:      confidence,
		Source:          source,
	}
}
