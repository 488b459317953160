package pipelines

import (
	"context"
	"fmt"
	"sort"

	"github.com/medtariff/refprice/classify"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/pricing"
)

func (r *Runner) products(ctx context.Context, name Name, opts Options,
	fn func(ctx context.Context, x *run, p *models.Product) error) (*Report, error) {
	x := r.start(name, opts)

	ids, err := r.Products.ListProductIDs(ctx, false)
	if err != nil {
		return x.report, fmt.Errorf("pipeline %s: snapshot ids: %w", name, err)
	}

	return x.each(ctx, ids, func(ctx context.Context, batch []uint) error {
		rows, err := r.Products.GetProducts(ctx, batch)
		if err != nil {
			return err
		}
		for i := range rows {
			if err := fn(ctx, x, &rows[i]); err != nil {
				return fmt.Errorf("product %d: %w", rows[i].ID, err)
			}
		}
		return nil
	})
}

// ClassifyProducts runs the rule classifier over products that have no
// category or only a low-confidence rule classification. opts.Force widens
// this to every product not classified by hand. Results below the minimum
// apply confidence are left for manual review.
func (r *Runner) ClassifyProducts(ctx context.Context, opts Options) (*Report, error) {
	return r.products(ctx, ClassifyProducts, opts, func(ctx context.Context, x *run, p *models.Product) error {
		if p.IsManuallyClassified() {
			x.skip("manual")
			return nil
		}
		weak := p.CategoryID == nil ||
			(p.ClassificationSource == models.SourceRule && p.ClassificationConfidence == models.ConfidenceLow)
		if !weak && !opts.Force {
			x.skip("kept")
			return nil
		}

		res := r.Classifier.Classify(classify.Input{Name: p.Name, Manufacturer: p.ManufacturerName})
		if res == nil {
			x.skip("unclassifiable")
			return nil
		}
		if !res.Confidence.AtLeast(r.MinApplyConfidence) {
			x.skip("needs_review")
			return nil
		}
		if p.CategoryID != nil && *p.CategoryID == res.CategoryID &&
			p.ClassificationSource == models.SourceRule && p.ClassificationConfidence == res.Confidence {
			x.skip("unchanged")
			return nil
		}

		c := models.ProductClassification{
			CategoryID: &res.CategoryID,
			Source:     models.SourceRule,
			Confidence: res.Confidence,
		}
		if !opts.DryRun {
			if err := r.Products.UpdateClassification(ctx, p.ID, c); err != nil {
				return err
			}
		}

		before := "null"
		if p.CategoryID != nil {
			before = fmt.Sprint(*p.CategoryID)
		}
		x.count("applied_" + string(res.Confidence))
		x.record("products", p.ID,
			[]string{"category_id", "classification_source", "classification_confidence"},
			fmt.Sprintf("CLASSIFIED: %s (%s) keyword %q priority %d", res.Code, res.Name, res.Keyword, res.Priority),
			Change{RowID: p.ID, Field: "category_id", Before: before, After: fmt.Sprint(res.CategoryID)},
			Change{RowID: p.ID, Field: "classification_confidence", Before: string(p.ClassificationConfidence), After: string(res.Confidence)},
		)
		return nil
	})
}

// RebuildMatches recomputes the cached price matches of every product and
// replaces them when the resolver's answer changed.
func (r *Runner) RebuildMatches(ctx context.Context, opts Options) (*Report, error) {
	return r.products(ctx, RebuildMatches, opts, func(ctx context.Context, x *run, p *models.Product) error {
		id := p.ID
		resolved, err := r.Resolver.Resolve(ctx, pricing.Query{ProductID: &id})
		if err != nil {
			return err
		}
		want := make([]models.ProductPriceMatch, len(resolved))
		for i, m := range resolved {
			want[i] = models.ProductPriceMatch{
				ProductID:        p.ID,
				ReferencePriceID: m.Price.ID,
				MatchType:        m.Type,
				MatchScore:       m.Score,
				MatchReason:      m.Reason(),
			}
		}

		have, err := r.Matches.ListMatches(ctx, p.ID)
		if err != nil {
			return err
		}
		if sameMatches(have, want) {
			x.skip("unchanged")
			return nil
		}

		if !opts.DryRun {
			if err := r.Matches.ReplaceMatches(ctx, p.ID, want); err != nil {
				return err
			}
		}
		x.count("rebuilt")
		x.record("product_price_matches", p.ID, []string{"product_id"},
			fmt.Sprintf("MATCHES: %d -> %d", len(have), len(want)),
			Change{RowID: p.ID, Field: "matches", Before: fmt.Sprint(len(have)), After: fmt.Sprint(len(want))},
		)
		return nil
	})
}

func sameMatches(a, b []models.ProductPriceMatch) bool {
	if len(a) != len(b) {
		return false
	}
	byPrice := func(s []models.ProductPriceMatch) []models.ProductPriceMatch {
		out := append([]models.ProductPriceMatch(nil), s...)
		sort.Slice(out, func(i, j int) bool { return out[i].ReferencePriceID < out[j].ReferencePriceID })
		return out
	}
	a, b = byPrice(a), byPrice(b)
	for i := range a {
		if !a[i].SameAs(b[i]) {
			return false
		}
	}
	return true
}
