package pipelines

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/fraction"
	"github.com/medtariff/refprice/models"
)

// NoteDecomposed marks set rows that were split into component estimates and
// the estimate rows themselves.
const NoteDecomposed = "[decomposed]"

// DecomposeSets splits set-scope prices into one estimated component row per
// component of the set's composition. A set whose decomposition fails the
// checklist is reported and left untouched.
func (r *Runner) DecomposeSets(ctx context.Context, opts Options) (*Report, error) {
	f := models.ReferencePriceFilter{
		PriceScope:      models.ScopeSet,
		ExcludeDerived:  true,
		NotesNotContain: NoteDecomposed,
	}
	observed := newObservedPrices(r)

	return r.prices(ctx, DecomposeSets, opts, f, func(ctx context.Context, x *run, p *models.ReferencePrice) error {
		catID := p.EffectiveCategoryID()
		if catID == nil {
			x.skip("unclassified")
			return nil
		}
		node, err := r.Tree.Node(*catID)
		if err != nil {
			x.skip("unknown_category")
			return nil
		}
		set, ok := r.Estimator.Set(node.Code)
		if !ok {
			x.skip("not_a_set")
			return nil
		}

		obs, err := observed.forSet(ctx, set)
		if err != nil {
			return err
		}
		d, err := r.Estimator.Decompose(set, p.PriceAmount, obs)
		if errors.Is(err, models.ErrValidationFailure) {
			x.report.ValidationFailures = append(x.report.ValidationFailures, ValidationFailure{RowID: p.ID, Reason: err.Error()})
			r.Metrics.ValidationFailed(string(DecomposeSets))
			x.log.Warn("Set decomposition failed validation", zap.Uint("row_id", p.ID), zap.Error(err))
			x.skip("validation_failed")
			return nil
		}
		if err != nil {
			return err
		}
		for _, flag := range d.Flags {
			x.report.Flags = append(x.report.Flags, Flag{RowID: p.ID, Message: flag})
		}

		derived, err := r.componentRows(p, d)
		if err != nil {
			return err
		}
		changes := make([]Change, 0, len(derived))
		for i := range derived {
			if !opts.DryRun {
				if _, err := r.Prices.UpsertDerivedPrice(ctx, &derived[i]); err != nil {
					return err
				}
			}
			changes = append(changes, Change{
				RowID: p.ID,
				Field: "derived_component",
				After: fmt.Sprintf("%s=%s", d.Components[i].Code, derived[i].PriceAmount.StringFixed(2)),
			})
		}

		codes := make([]string, len(d.Components))
		for i, c := range d.Components {
			codes[i] = c.Code
		}
		note := fmt.Sprintf("%s set %s split into %d component estimates (%s), fraction sum %.2f",
			NoteDecomposed, set.SetCode, len(derived), strings.Join(codes, ", "), d.FractionSum)
		x.count("decomposed")
		if err := x.patchPrice(ctx, p, models.ReferencePricePatch{AppendNote: note}); err != nil {
			return err
		}
		x.report.Changes = append(x.report.Changes, changes...)
		return nil
	})
}

func (r *Runner) componentRows(set *models.ReferencePrice, d *fraction.Decomposition) ([]models.ReferencePrice, error) {
	single := models.ComponentSingle
	rows := make([]models.ReferencePrice, 0, len(d.Components))
	for _, c := range d.Components {
		node, err := r.Tree.ByCode(c.Code)
		if err != nil {
			return nil, fmt.Errorf("set %s component %s: %w", d.Set.SetCode, c.Code, err)
		}
		catID, parentID := node.ID, set.ID
		est := c.Estimate
		rows = append(rows, models.ReferencePrice{
			PriceAmount:          est.Midpoint(),
			Currency:             set.Currency,
			SourceCountry:        set.SourceCountry,
			SourceName:           set.SourceName,
			SourceCode:           set.SourceCode,
			ComponentType:        &single,
			PriceScope:           models.ScopeComponent,
			CategoryID:           &catID,
			ComponentDescription: fmt.Sprintf("%s (estimated from set price #%d)", est.Label, set.ID),
			Notes: fmt.Sprintf("%s estimated %s-%s %s (%.0f-%.0f%% of set price %s) from reference price #%d",
				NoteDecomposed, est.Min.StringFixed(2), est.Max.StringFixed(2), set.Currency,
				est.FractionMin*100, est.FractionMax*100, set.PriceAmount.StringFixed(2), set.ID),
			DerivedFromID: &parentID,
		})
	}
	return rows, nil
}

// observedPrices caches catalog prices per component code for one run.
type observedPrices struct {
	runner *Runner
	byCode map[string][]decimal.Decimal
}

func newObservedPrices(r *Runner) *observedPrices {
	return &observedPrices{runner: r, byCode: make(map[string][]decimal.Decimal)}
}

func (o *observedPrices) forSet(ctx context.Context, set fraction.SetComposition) (map[string][]decimal.Decimal, error) {
	out := make(map[string][]decimal.Decimal, len(set.Components))
	for _, code := range set.Components {
		prices, err := o.forCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if len(prices) > 0 {
			out[code] = prices
		}
	}
	return out, nil
}

func (o *observedPrices) forCode(ctx context.Context, code string) ([]decimal.Decimal, error) {
	if prices, ok := o.byCode[code]; ok {
		return prices, nil
	}
	node, err := o.runner.Tree.ByCode(code)
	if errors.Is(err, models.ErrNotFound) {
		o.byCode[code] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := o.runner.Tree.DescendantIDs(node.ID)
	if err != nil {
		return nil, err
	}
	products, err := o.runner.Products.ListPricedByCategories(ctx, ids)
	if err != nil {
		return nil, err
	}
	var prices []decimal.Decimal
	for _, p := range products {
		if p.Price.Valid {
			prices = append(prices, p.Price.Decimal)
		}
	}
	o.byCode[code] = prices
	return prices, nil
}
