// Package pricing compares an invoice price against a list price and bands
// the difference.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
)

// DefaultTolerancePercent is used when a run does not supply its own tolerance.
const DefaultTolerancePercent = 2.0

// percentScale is the number of decimal places reported on percent_difference.
const percentScale = 6

var hundred = decimal.NewFromInt(100)

// Comparison is the outcome of Compare. Band is never BandNoMatch.
type Comparison struct {
	Difference        float64     `json:"difference"`
	PercentDifference float64     `json:"percent_difference"`
	Band              models.Band `json:"band"`
}

// Compare returns the signed difference invoice-list, the signed percentage of
// the list price, and the band for |percent| against tolerancePercent.
// A zero list price yields 100% and REVIEW without dividing.
func Compare(invoicePrice, listPrice, tolerancePercent float64) (Comparison, error) {
	if err := checkFinite("invoice price", invoicePrice); err != nil {
		return Comparison{}, err
	}
	if err := checkFinite("list price", listPrice); err != nil {
		return Comparison{}, err
	}
	if err := checkFinite("tolerance", tolerancePercent); err != nil {
		return Comparison{}, err
	}
	if tolerancePercent < 0 {
		return Comparison{}, fmt.Errorf("%w: tolerance must not be negative, got %v", apperrors.ErrInvalidInput, tolerancePercent)
	}

	invoice := decimal.NewFromFloat(invoicePrice)
	list := decimal.NewFromFloat(listPrice)
	diff := invoice.Sub(list)

	if list.IsZero() {
		return Comparison{
			Difference:        diff.InexactFloat64(),
			PercentDifference: 100.0,
			Band:              models.BandReview,
		}, nil
	}

	// Band on the exact percentage; only the reported value is rounded.
	percent := diff.Div(list).Mul(hundred)
	return Comparison{
		Difference:        diff.InexactFloat64(),
		PercentDifference: percent.Round(percentScale).InexactFloat64(),
		Band:              band(percent.Abs(), decimal.NewFromFloat(tolerancePercent)),
	}, nil
}

func band(absPercent, tolerance decimal.Decimal) models.Band {
	switch {
	case absPercent.LessThanOrEqual(tolerance):
		return models.BandOK
	case absPercent.LessThanOrEqual(tolerance.Mul(decimal.NewFromInt(2))):
		return models.BandReview
	default:
		return models.BandDiscrepancy
	}
}

func checkFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not a finite number", apperrors.ErrInvalidInput, name)
	}
	return nil
}
