// Package fraction estimates component prices as a share of a known set
// price. Estimates are approximations for display and triage only.
package fraction

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/medtariff/refprice/models"
)

// Entry gives the share of a set price a component under Prefix represents.
type Entry struct {
	Prefix string  `yaml:"prefix" validate:"required"`
	Min    float64 `yaml:"min" validate:"gte=0,lte=1"`
	Max    float64 `yaml:"max" validate:"gtefield=Min,lte=1"`
	Label  string  `yaml:"label" validate:"required"`
}

// SetComposition lists the component codes a complete kit is made of.
type SetComposition struct {
	SetCode    string   `yaml:"set" validate:"required"`
	Label      string   `yaml:"label"`
	Components []string `yaml:"components" validate:"min=1,dive,required"`
}

// Table is the static fraction data.
type Table struct {
	LevelWidth      int              `yaml:"level_width" validate:"gte=1"`
	MinPrefixLength int              `yaml:"min_prefix_length" validate:"gte=1"`
	Entries         []Entry          `yaml:"entries" validate:"dive"`
	Sets            []SetComposition `yaml:"sets" validate:"dive"`
}

// Estimate is a price range for one component.
type Estimate struct {
	Min           decimal.Decimal
	Max           decimal.Decimal
	Label         string
	MatchedPrefix string
	FractionMin   float64
	FractionMax   float64
}

// Midpoint is the centre of the range.
func (e Estimate) Midpoint() decimal.Decimal {
	return e.Min.Add(e.Max).Div(decimal.NewFromInt(2)).Round(currencyPlaces)
}

const currencyPlaces = 2

// Estimator is immutable after construction and safe for concurrent use.
type Estimator struct {
	entries  map[string]Entry
	sets     map[string]SetComposition
	width    int
	minLen   int
	setOrder []string
}

func NewEstimator(t Table) (*Estimator, error) {
	if t.LevelWidth < 1 || t.MinPrefixLength < 1 {
		return nil, fmt.Errorf("fraction table level width %d, min prefix %d: %w", t.LevelWidth, t.MinPrefixLength, models.ErrInvalidArgument)
	}
	e := &Estimator{
		entries: make(map[string]Entry, len(t.Entries)),
		sets:    make(map[string]SetComposition, len(t.Sets)),
		width:   t.LevelWidth,
		minLen:  t.MinPrefixLength,
	}
	for _, en := range t.Entries {
		if en.Min < 0 || en.Max > 1 || en.Min > en.Max {
			return nil, fmt.Errorf("fraction entry %s [%v, %v]: %w", en.Prefix, en.Min, en.Max, models.ErrInvalidArgument)
		}
		if _, dup := e.entries[en.Prefix]; dup {
			return nil, fmt.Errorf("fraction entry %s listed twice: %w", en.Prefix, models.ErrInvalidArgument)
		}
		e.entries[en.Prefix] = en
	}
	for _, s := range t.Sets {
		e.sets[s.SetCode] = s
		e.setOrder = append(e.setOrder, s.SetCode)
	}
	return e, nil
}

// Lookup finds the table entry for code by longest prefix: the full code
// first, then one hierarchy level shorter at a time, stopping at the minimum
// prefix length.
func (e *Estimator) Lookup(code string) (Entry, bool) {
	for p := code; len(p) >= e.minLen; {
		if en, ok := e.entries[p]; ok {
			return en, true
		}
		next := len(p) - e.width
		if next < e.minLen {
			break
		}
		p = p[:next]
	}
	return Entry{}, false
}

// Estimate returns the component price range for code given a set price, or
// nil when no prefix of code is in the table.
func (e *Estimator) Estimate(code string, setPrice decimal.Decimal) *Estimate {
	en, ok := e.Lookup(code)
	if !ok {
		return nil
	}
	return &Estimate{
		Min:           setPrice.Mul(decimal.NewFromFloat(en.Min)).Round(currencyPlaces),
		Max:           setPrice.Mul(decimal.NewFromFloat(en.Max)).Round(currencyPlaces),
		Label:         en.Label,
		MatchedPrefix: en.Prefix,
		FractionMin:   en.Min,
		FractionMax:   en.Max,
	}
}

// Set returns the composition of a set code.
func (e *Estimator) Set(code string) (SetComposition, bool) {
	s, ok := e.sets[code]
	return s, ok
}

// Sets returns every set composition in table order.
func (e *Estimator) Sets() []SetComposition {
	out := make([]SetComposition, 0, len(e.setOrder))
	for _, c := range e.setOrder {
		out = append(out, e.sets[c])
	}
	return out
}
