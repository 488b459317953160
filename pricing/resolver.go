// Package pricing resolves the reference prices that apply to a product or
// a category, ranked by how confidently each one can be attributed.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
)

// PriceSource selects reference price rows.
type PriceSource interface {
	ListReferencePrices(ctx context.Context, f models.ReferencePriceFilter) ([]models.ReferencePrice, error)
}

// ProductSource loads a single product.
type ProductSource interface {
	GetByID(ctx context.Context, id uint) (*models.Product, error)
}

// Config holds the tier scores.
type Config struct {
	ProductScore  float64
	LeafScore     float64
	AncestorScore float64 // score of the immediate parent
	AncestorDecay float64 // multiplier per additional hop
}

// DefaultConfig returns the default scores. Every ancestor score stays below
// the leaf score so tier order and score order agree.
func DefaultConfig() Config {
	return Config{
		ProductScore:  1.0,
		LeafScore:     0.9,
		AncestorScore: 0.8,
		AncestorDecay: 0.75,
	}
}

// Query names the product and/or category to resolve. At least one is needed.
// When both are given the category overrides the product's own category for
// the category tiers.
type Query struct {
	ProductID  *uint
	CategoryID *uint
	// IncludeEstimated adds rows derived from set decompositions. They are
	// flagged as estimated and ranked after every observed price.
	IncludeEstimated bool
}

// EstimatedNotePrefix marks matches whose amount is a fraction estimate.
const EstimatedNotePrefix = "ESTIMATED:"

// Match is one ranked reference price.
type Match struct {
	Price    models.ReferencePrice
	Type     models.MatchType
	Score    float64
	Distance int // hops from the queried category, 0 for direct and leaf matches
	Partial  bool
	// Estimated is set for rows derived from a set price. Their amount is
	// an estimate, not an observed price.
	Estimated bool
	Notes     string
}

// Reason renders the match reason stored with ProductPriceMatch.
func (m Match) Reason() string {
	var reason string
	switch m.Type {
	case models.MatchProduct:
		reason = "linked to product"
	case models.MatchCategoryLeaf:
		reason = "same category"
	case models.MatchCategoryAncestor:
		reason = fmt.Sprintf("ancestor category, %d level(s) up", m.Distance)
	default:
		panic(fmt.Sprintf("pricing: unknown match type %q", string(m.Type)))
	}
	if m.Partial {
		reason += " (partial price)"
	}
	if m.Estimated {
		reason += " (estimated from set price)"
	}
	return reason
}

type Resolver struct {
	prices   PriceSource
	products ProductSource
	tree     *hierarchy.Tree
	config   Config
	logger   *zap.Logger
}

func NewResolver(prices PriceSource, products ProductSource, tree *hierarchy.Tree, config Config, logger *zap.Logger) *Resolver {
	return &Resolver{
		prices:   prices,
		products: products,
		tree:     tree,
		config:   config,
		logger:   logger,
	}
}

// Resolve returns the reference prices for q, most confident first: prices
// linked to the product, then prices classified exactly under the category,
// then prices classified under each ancestor from the parent up to the root.
// A price reachable through several tiers is returned once, in its best tier.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]Match, error) {
	if q.ProductID == nil && q.CategoryID == nil {
		return nil, fmt.Errorf("resolve prices: product or category required: %w", models.ErrInvalidArgument)
	}

	log := r.logger.With(zap.Uintp("product_id", q.ProductID), zap.Uintp("category_id", q.CategoryID))

	var matches []Match
	seen := make(map[uint]struct{})
	add := func(m Match) {
		if _, dup := seen[m.Price.ID]; dup {
			return
		}
		seen[m.Price.ID] = struct{}{}
		if split, ok := DetectSplit(m.Price.ComponentDescription); ok {
			m.Partial = true
			m.Notes = split.Note()
		}
		if m.Price.DerivedFromID != nil {
			m.Estimated = true
			m.Notes = models.AppendNote(m.Notes, fmt.Sprintf("%s derived from set price #%d", EstimatedNotePrefix, *m.Price.DerivedFromID))
		}
		matches = append(matches, m)
	}

	categoryID := q.CategoryID
	if q.ProductID != nil {
		product, err := r.products.GetByID(ctx, *q.ProductID)
		if err != nil {
			return nil, err
		}
		if categoryID == nil {
			categoryID = product.CategoryID
		}

		direct, err := r.prices.ListReferencePrices(ctx, models.ReferencePriceFilter{
			ProductID:      q.ProductID,
			ExcludeDerived: !q.IncludeEstimated,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range direct {
			add(Match{Price: p, Type: models.MatchProduct, Score: r.config.ProductScore})
		}
	}

	if categoryID == nil {
		return sortMatches(matches), nil
	}

	chain, err := r.tree.AncestorChain(*categoryID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Debug("Category not in hierarchy, skipping category tiers")
			return sortMatches(matches), nil
		}
		return nil, err
	}

	// chain is root..self; distance 0 is the category itself.
	ids := make([]uint, len(chain))
	distance := make(map[uint]int, len(chain))
	for i, n := range chain {
		ids[i] = n.ID
		distance[n.ID] = len(chain) - 1 - i
	}

	rows, err := r.prices.ListReferencePrices(ctx, models.ReferencePriceFilter{
		EffectiveCategory: ids,
		ExcludeDerived:    !q.IncludeEstimated,
	})
	if err != nil {
		return nil, err
	}

	// Leaf tier first so dedup keeps the closer occurrence.
	sort.SliceStable(rows, func(i, j int) bool {
		return distance[*rows[i].EffectiveCategoryID()] < distance[*rows[j].EffectiveCategoryID()]
	})
	for _, p := range rows {
		d := distance[*p.EffectiveCategoryID()]
		if d == 0 {
			add(Match{Price: p, Type: models.MatchCategoryLeaf, Score: r.config.LeafScore})
			continue
		}
		add(Match{
			Price:    p,
			Type:     models.MatchCategoryAncestor,
			Score:    r.ancestorScore(d),
			Distance: d,
		})
	}

	log.Debug("Resolved reference prices", zap.Int("match_count", len(matches)))
	return sortMatches(matches), nil
}

func (r *Resolver) ancestorScore(distance int) float64 {
	score := r.config.AncestorScore * math.Pow(r.config.AncestorDecay, float64(distance-1))
	return math.Round(score*10000) / 10000
}

// sortMatches puts observed prices before estimates, then orders by tier,
// ancestor distance and price ascending.
func sortMatches(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Estimated != b.Estimated {
			return !a.Estimated
		}
		if ra, rb := a.Type.Rank(), b.Type.Rank(); ra != rb {
			return ra < rb
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if c := a.Price.PriceAmount.Cmp(b.Price.PriceAmount); c != 0 {
			return c < 0
		}
		return a.Price.ID < b.Price.ID
	})
	if matches == nil {
		return []Match{}
	}
	return matches
}
