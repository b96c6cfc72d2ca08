package models

import "time"

// PriceList is a supplier catalogue created by external import.
// Stored in price_lists; read-only to matching.
type PriceList struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	SupplierRef *string    `json:"supplier_ref,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// PriceListRow is one priced article of a PriceList.
// ArticleCode is unique per list when present.
type PriceListRow struct {
	ID            int64   `json:"id"`
	PriceListID   int64   `json:"price_list_id"`
	ArticleCode   *string `json:"article_code,omitempty"`
	Description   string  `json:"description"`
	UnitPrice     float64 `json:"unit_price"`
	UnitOfMeasure *string `json:"unit_of_measure,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

// ListScope selects the rows the resolver searches: a single price list, or
// every active list when ListID is nil.
type ListScope struct {
	ListID *int64 `json:"list_id,omitempty"`
}

// AllActiveLists is the unconstrained scope.
func AllActiveLists() ListScope {
	return ListScope{}
}

// SingleList scopes the search to one price list.
func SingleList(id int64) ListScope {
	return ListScope{ListID: &id}
}

// IsAll reports whether the scope is "all active lists".
func (s ListScope) IsAll() bool {
	return s.ListID == nil
}

// Key returns a stable string for cache keys and logging.
func (s ListScope) Key() string {
	if s.ListID == nil {
		return "all"
	}
	return "list:" + formatInt(*s.ListID)
}
