package fraction

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/medtariff/refprice/models"
)

const (
	sumTolerance      = 0.02
	maxComponentShare = 0.5
	corroborationBand = 0.30
)

// ComponentEstimate is the estimate of one component of a decomposed set.
type ComponentEstimate struct {
	Code     string
	Estimate Estimate
}

// Decomposition is the result of splitting a set price into components.
type Decomposition struct {
	Set         SetComposition
	SetPrice    decimal.Decimal
	Components  []ComponentEstimate
	FractionSum float64
	// Flags are non-blocking findings, such as a component above half the
	// set price.
	Flags []string
}

// Decompose estimates every component of set and runs the validation
// checklist. observed maps component codes to independently observed
// prices; it may be empty. Blocking failures are returned as an error
// wrapping models.ErrValidationFailure together with the decomposition.
func (e *Estimator) Decompose(set SetComposition, setPrice decimal.Decimal, observed map[string][]decimal.Decimal) (*Decomposition, error) {
	d := &Decomposition{Set: set, SetPrice: setPrice}

	for _, code := range set.Components {
		est := e.Estimate(code, setPrice)
		if est == nil {
			return d, fmt.Errorf("set %s: component %s has no fraction entry: %w", set.SetCode, code, models.ErrValidationFailure)
		}
		d.Components = append(d.Components, ComponentEstimate{Code: code, Estimate: *est})
		d.FractionSum += (est.FractionMin + est.FractionMax) / 2
		if est.FractionMax > maxComponentShare {
			d.Flags = append(d.Flags, fmt.Sprintf("component %s (%s) may exceed %.0f%% of the set price",
				code, est.Label, maxComponentShare*100))
		}
	}
	d.FractionSum = math.Round(d.FractionSum*10000) / 10000

	if math.Abs(d.FractionSum-1) > sumTolerance+1e-9 {
		return d, fmt.Errorf("set %s: component fractions sum to %.4f, want 1.00 ± %.2f: %w",
			set.SetCode, d.FractionSum, sumTolerance, models.ErrValidationFailure)
	}

	if !corroborated(d.Components, observed) {
		return d, fmt.Errorf("set %s: no component estimate within %.0f%% of an observed price: %w",
			set.SetCode, corroborationBand*100, models.ErrValidationFailure)
	}
	return d, nil
}

// corroborated holds when there is nothing to compare against, or when at
// least one component midpoint lies within the band of an observed price
// for that component.
func corroborated(components []ComponentEstimate, observed map[string][]decimal.Decimal) bool {
	compared := false
	for _, c := range components {
		prices := observed[c.Code]
		if len(prices) == 0 {
			continue
		}
		compared = true
		mid := c.Estimate.Midpoint()
		for _, p := range prices {
			if !p.IsPositive() {
				continue
			}
			dev := mid.Sub(p).Abs().Div(p).InexactFloat64()
			if dev <= corroborationBand {
				return true
			}
		}
	}
	return !compared
}
