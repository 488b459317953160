package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/models/modelstest"
	"github.com/medtariff/refprice/refdata"
)

type fixture struct {
	tree     *hierarchy.Tree
	store    *modelstest.Store
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tree, err := refdata.DefaultTree()
	require.NoError(t, err)
	store := modelstest.NewStore()
	store.SeedCategories(tree.Nodes())
	return &fixture{
		tree:     tree,
		store:    store,
		resolver: NewResolver(store, store, tree, DefaultConfig(), zap.NewNop()),
	}
}

func (f *fixture) id(t *testing.T, code string) uint {
	t.Helper()
	n, err := f.tree.ByCode(code)
	require.NoError(t, err)
	return n.ID
}

func (f *fixture) price(categoryID uint, amount string) uint {
	return f.store.AddPrice(models.ReferencePrice{CategoryID: &categoryID, PriceAmount: decimal.RequireFromString(amount)})
}

func ids(matches []Match) []uint {
	out := make([]uint, len(matches))
	for i, m := range matches {
		out[i] = m.Price.ID
	}
	return out
}

func TestResolveByCategory(t *testing.T) {
	f := newFixture(t)
	cups := f.id(t, "P09080301")
	leafHigh := f.price(cups, "900.00")
	leafLow := f.price(cups, "750.00")
	parent := f.price(f.id(t, "P090803"), "1100.00")
	grand := f.price(f.id(t, "P0908"), "1300.00")
	f.price(f.id(t, "P0909"), "500.00")
	f.price(f.id(t, "P09080302"), "300.00")

	matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &cups})
	require.NoError(t, err)

	assert.Equal(t, []uint{leafLow, leafHigh, parent, grand}, ids(matches))
	assert.Equal(t, models.MatchCategoryLeaf, matches[0].Type)
	assert.Equal(t, 0.9, matches[0].Score)
	assert.Equal(t, models.MatchCategoryAncestor, matches[2].Type)
	assert.Equal(t, 0.8, matches[2].Score)
	assert.Equal(t, 1, matches[2].Distance)
	assert.Equal(t, 0.6, matches[3].Score)
	assert.Equal(t, "ancestor category, 2 level(s) up", matches[3].Reason())
}

func TestResolveUsesLeafCategory(t *testing.T) {
	f := newFixture(t)
	hip, cups := f.id(t, "P0908"), f.id(t, "P09080301")
	narrowed := f.store.AddPrice(models.ReferencePrice{
		CategoryID:     &hip,
		LeafCategoryID: &cups,
		PriceAmount:    decimal.RequireFromString("820.00"),
	})

	matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &cups})
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, narrowed, matches[0].Price.ID)
	assert.Equal(t, models.MatchCategoryLeaf, matches[0].Type)
}

func TestResolveByProduct(t *testing.T) {
	f := newFixture(t)
	cups := f.id(t, "P09080301")
	product := f.store.AddProduct(models.Product{Name: "Cup", CategoryID: &cups})
	direct := f.store.AddPrice(models.ReferencePrice{ProductID: &product, CategoryID: &cups, PriceAmount: decimal.RequireFromString("990.00")})
	leaf := f.price(cups, "850.00")

	matches, err := f.resolver.Resolve(context.Background(), Query{ProductID: &product})
	require.NoError(t, err)

	assert.Equal(t, []uint{direct, leaf}, ids(matches), "a price in several tiers is listed once, in its best tier")
	assert.Equal(t, models.MatchProduct, matches[0].Type)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "linked to product", matches[0].Reason())
}

func TestResolveFlagsSplitPrices(t *testing.T) {
	f := newFixture(t)
	cups := f.id(t, "P09080301")
	f.store.AddPrice(models.ReferencePrice{
		CategoryID:           &cups,
		PriceAmount:          decimal.RequireFromString("450.00"),
		ComponentDescription: "Cotyle partie 1 sur 2",
	})

	matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &cups})
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.True(t, matches[0].Partial)
	assert.Contains(t, matches[0].Notes, NoteSplitPrice)
	assert.Equal(t, "same category (partial price)", matches[0].Reason())
}

func TestResolveEdgeCases(t *testing.T) {
	f := newFixture(t)
	unclassified := f.store.AddProduct(models.Product{Name: "Loose item"})
	unknown := uint(99999)

	t.Run("Nothing to resolve", func(t *testing.T) {
		_, err := f.resolver.Resolve(context.Background(), Query{})
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	})

	t.Run("Unclassified product without prices", func(t *testing.T) {
		matches, err := f.resolver.Resolve(context.Background(), Query{ProductID: &unclassified})
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)
	})

	t.Run("Category missing from hierarchy", func(t *testing.T) {
		matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &unknown})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Unknown product", func(t *testing.T) {
		_, err := f.resolver.Resolve(context.Background(), Query{ProductID: &unknown})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Store failure", func(t *testing.T) {
		f.store.Err = errors.New("connection refused")
		defer func() { f.store.Err = nil }()

		cups := f.id(t, "P09080301")
		_, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &cups})
		assert.ErrorIs(t, err, f.store.Err)
	})
}

func TestAncestorScoresStayBelowLeaf(t *testing.T) {
	r := NewResolver(nil, nil, nil, DefaultConfig(), zap.NewNop())

	prev := r.config.LeafScore
	for d := 1; d <= 6; d++ {
		s := r.ancestorScore(d)
		assert.Less(t, s, prev)
		prev = s
	}
}

func TestResolveEstimatedPrices(t *testing.T) {
	f := newFixture(t)
	stems, hipSet := f.id(t, "P090801"), f.id(t, "P090804")
	set := f.store.AddPrice(models.ReferencePrice{
		CategoryID:  &hipSet,
		PriceScope:  models.ScopeSet,
		PriceAmount: decimal.RequireFromString("4000.00"),
	})
	estimate := f.store.AddPrice(models.ReferencePrice{
		CategoryID:    &stems,
		DerivedFromID: &set,
		PriceAmount:   decimal.RequireFromString("1300.00"),
	})
	observed := f.price(f.id(t, "P0908"), "1500.00")

	t.Run("Excluded by default", func(t *testing.T) {
		matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &stems})
		require.NoError(t, err)

		assert.Equal(t, []uint{observed}, ids(matches))
		assert.False(t, matches[0].Estimated)
	})

	t.Run("Ranked after observed prices when requested", func(t *testing.T) {
		matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &stems, IncludeEstimated: true})
		require.NoError(t, err)

		require.Equal(t, []uint{observed, estimate}, ids(matches))
		assert.Equal(t, models.MatchCategoryAncestor, matches[0].Type)
		assert.False(t, matches[0].Estimated)
		assert.Empty(t, matches[0].Notes)

		est := matches[1]
		assert.Equal(t, models.MatchCategoryLeaf, est.Type)
		assert.True(t, est.Estimated)
		assert.False(t, est.Partial)
		assert.Contains(t, est.Notes, EstimatedNotePrefix)
		assert.Equal(t, "same category (estimated from set price)", est.Reason())
	})
}

func TestResolveLeafThenAncestorForClassifiedProduct(t *testing.T) {
	f := newFixture(t)
	cups := f.id(t, "P09080301")
	product := f.store.AddProduct(models.Product{Name: "Acetabular cup 52mm", CategoryID: &cups})
	leaf := f.price(cups, "900.00")
	ancestor := f.price(f.id(t, "P0908"), "1200.00")

	matches, err := f.resolver.Resolve(context.Background(), Query{ProductID: &product})
	require.NoError(t, err)

	require.Equal(t, []uint{leaf, ancestor}, ids(matches))
	assert.Equal(t, models.MatchCategoryLeaf, matches[0].Type)
	assert.Equal(t, models.MatchCategoryAncestor, matches[1].Type)
}

func TestResolveFlagsPartialKneeShim(t *testing.T) {
	f := newFixture(t)
	augments := f.id(t, "P090904")
	id := f.store.AddPrice(models.ReferencePrice{
		CategoryID:           &augments,
		PriceAmount:          decimal.RequireFromString("240.00"),
		ComponentDescription: "Genou, cale de rattrapage (Part 1/2)",
	})

	matches, err := f.resolver.Resolve(context.Background(), Query{CategoryID: &augments})
	require.NoError(t, err)

	require.Equal(t, []uint{id}, ids(matches))
	assert.True(t, matches[0].Partial)
	assert.Contains(t, matches[0].Notes, NoteSplitPrice)
	assert.Equal(t, "same category (partial price)", matches[0].Reason())
}
