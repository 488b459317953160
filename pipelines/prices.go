package pipelines

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/medtariff/refprice/codemap"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/pricing"
)

// prices runs fn over every reference price selected by f, one batch at a
// time.
func (r *Runner) prices(ctx context.Context, name Name, opts Options, f models.ReferencePriceFilter,
	fn func(ctx context.Context, x *run, p *models.ReferencePrice) error) (*Report, error) {
	x := r.start(name, opts)

	ids, err := r.Prices.ListReferencePriceIDs(ctx, f)
	if err != nil {
		return x.report, fmt.Errorf("pipeline %s: snapshot ids: %w", name, err)
	}

	return x.each(ctx, ids, func(ctx context.Context, batch []uint) error {
		rows, err := r.Prices.ListReferencePrices(ctx, models.ReferencePriceFilter{IDs: batch})
		if err != nil {
			return err
		}
		for i := range rows {
			if err := fn(ctx, x, &rows[i]); err != nil {
				return fmt.Errorf("reference price %d: %w", rows[i].ID, err)
			}
		}
		return nil
	})
}

// DeriveSubcodes fills xc_subcode and component_type from the source code,
// source name and description. Rows with both fields set are left alone
// unless opts.Force is set.
func (r *Runner) DeriveSubcodes(ctx context.Context, opts Options) (*Report, error) {
	f := models.ReferencePriceFilter{ExcludeDerived: true, MissingDerived: !opts.Force}

	return r.prices(ctx, DeriveSubcodes, opts, f, func(ctx context.Context, x *run, p *models.ReferencePrice) error {
		m := r.Mapper.Map(p.SourceCode, p.SourceName, p.ComponentDescription)

		var patch models.ReferencePricePatch
		if m.Subcode != "" && (p.XCSubcode == nil || *p.XCSubcode != m.Subcode) {
			sub := m.Subcode
			patch.XCSubcode = &sub
		}
		if p.ComponentType == nil || *p.ComponentType != m.ComponentType {
			ct := m.ComponentType
			patch.ComponentType = &ct
		}
		if patch.IsEmpty() {
			x.skip("unchanged")
			return nil
		}

		subcode := m.Subcode
		if subcode == "" {
			subcode = "none"
		}
		patch.AppendNote = fmt.Sprintf("SUBCODE: %s component_type=%s (source code %q)", subcode, m.ComponentType, p.SourceCode)
		x.count(string(m.ComponentType))
		return x.patchPrice(ctx, p, patch)
	})
}

// MapLeaves narrows leaf_category_id from the subcode. A leaf that is
// already set to a different node is only replaced with opts.Force.
func (r *Runner) MapLeaves(ctx context.Context, opts Options) (*Report, error) {
	f := models.ReferencePriceFilter{ExcludeDerived: true}

	return r.prices(ctx, MapLeaves, opts, f, func(ctx context.Context, x *run, p *models.ReferencePrice) error {
		leaf, outcome := r.Mapper.Narrow(p)
		switch outcome {
		case codemap.Narrowed:
		case codemap.Contradicts:
			x.log.Warn("Subcode leaf is outside the row's category, keeping broad classification",
				zap.Uint("row_id", p.ID), zap.Stringp("subcode", p.XCSubcode), zap.String("leaf", leaf.Code))
			x.skip(string(outcome))
			return nil
		case codemap.Unchanged, codemap.NoSubcode, codemap.Unmapped, codemap.NoBaseCategory:
			x.skip(string(outcome))
			return nil
		default:
			panic(fmt.Sprintf("pipelines: unknown narrow outcome %q", string(outcome)))
		}

		if p.LeafCategoryID != nil && !opts.Force {
			x.skip("kept")
			return nil
		}

		id := leaf.ID
		patch := models.ReferencePricePatch{
			LeafCategoryID: &id,
			AppendNote:     fmt.Sprintf("LEAF: subcode %s -> %s", *p.XCSubcode, leaf.Code),
		}
		x.count(string(outcome))
		return x.patchPrice(ctx, p, patch)
	})
}

// CorrectKits applies the kit revert list and the component type overrides.
func (r *Runner) CorrectKits(ctx context.Context, opts Options) (*Report, error) {
	subcodes := append(r.Mapper.KitSubcodes(), r.Mapper.OverrideSubcodes()...)
	if len(subcodes) == 0 {
		x := r.start(CorrectKits, opts)
		return x.each(ctx, nil, nil)
	}
	f := models.ReferencePriceFilter{SubcodeIn: subcodes, ExcludeDerived: true}

	return r.prices(ctx, CorrectKits, opts, f, func(ctx context.Context, x *run, p *models.ReferencePrice) error {
		patch := r.Mapper.KitCorrection(p)
		if patch.IsEmpty() {
			x.skip("compliant")
			return nil
		}
		if patch.ClearLeaf {
			x.report.count("kit_reverted")
		}
		if patch.ComponentType != nil {
			x.report.count("type_fixed:" + string(*patch.ComponentType))
		}
		x.report.Scanned++
		x.runner.Metrics.RowProcessed(string(CorrectKits), "corrected")
		return x.patchPrice(ctx, p, patch)
	})
}

// FlagSplitPrices appends a SPLIT_PRICE note to rows whose description says
// they are one part of a price split across several rows.
func (r *Runner) FlagSplitPrices(ctx context.Context, opts Options) (*Report, error) {
	f := models.ReferencePriceFilter{
		ExcludeDerived:  true,
		DescriptionLike: "part",
		NotesNotContain: pricing.NoteSplitPrice,
	}

	return r.prices(ctx, FlagSplitPrices, opts, f, func(ctx context.Context, x *run, p *models.ReferencePrice) error {
		split, ok := pricing.DetectSplit(p.ComponentDescription)
		if !ok || p.HasNote(pricing.NoteSplitPrice) {
			x.skip("not_split")
			return nil
		}
		x.count("split")
		return x.patchPrice(ctx, p, models.ReferencePricePatch{AppendNote: split.Note()})
	})
}
