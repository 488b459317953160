package pipelines

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/models/modelstest"
	"github.com/medtariff/refprice/pricing"
	"github.com/medtariff/refprice/refdata"
)

type fixture struct {
	t      *testing.T
	store  *modelstest.Store
	tree   *hierarchy.Tree
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tree, err := refdata.DefaultTree()
	require.NoError(t, err)
	tables, err := refdata.Default()
	require.NoError(t, err)
	engine, err := tables.Compile(tree)
	require.NoError(t, err)

	store := modelstest.NewStore()
	store.SeedCategories(tree.Nodes())

	runner := NewRunner(Deps{
		Prices:     store,
		Products:   store,
		Matches:    store,
		Audit:      store,
		Tree:       tree,
		Classifier: engine.Classifier,
		Mapper:     engine.Mapper,
		Estimator:  engine.Estimator,
		Resolver:   pricing.NewResolver(store, store, tree, pricing.DefaultConfig(), zap.NewNop()),
		Logger:     zap.NewNop(),
	})
	return &fixture{t: t, store: store, tree: tree, runner: runner}
}

func (f *fixture) id(code string) uint {
	f.t.Helper()
	n, err := f.tree.ByCode(code)
	require.NoError(f.t, err)
	return n.ID
}

func ptr[T any](v T) *T { return &v }

func TestDeriveSubcodes(t *testing.T) {
	// Arrange
	f := newFixture(t)
	screw := f.store.AddPrice(models.ReferencePrice{SourceCode: "XC4.2/X01203", PriceAmount: decimal.NewFromInt(80)})
	cup := f.store.AddPrice(models.ReferencePrice{SourceCode: "xc1.4-abc", PriceAmount: decimal.NewFromInt(900)})
	kit := f.store.AddPrice(models.ReferencePrice{SourceCode: "XC1.1 KIT", PriceAmount: decimal.NewFromInt(3000)})
	lpp := f.store.AddPrice(models.ReferencePrice{
		SourceCode:           "3141234",
		SourceName:           "LPP",
		ComponentDescription: "Vis corticale 4.5 mm",
		PriceAmount:          decimal.NewFromInt(40),
	})
	done := f.store.AddPrice(models.ReferencePrice{
		SourceCode:    "XC2.6",
		XCSubcode:     ptr("XC2.6"),
		ComponentType: ptr(models.ComponentIndividualModular),
		PriceAmount:   decimal.NewFromInt(500),
	})

	// Act
	rep, err := f.runner.DeriveSubcodes(context.Background(), Options{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Changed)
	assert.ElementsMatch(t, []uint{screw, cup, kit, lpp}, rep.ChangedIDs)
	assert.NotContains(t, rep.ChangedIDs, done)
	assert.Equal(t, map[string]int{"fixation_device": 2, "single_component": 1, "set": 1}, rep.Buckets)

	assert.Equal(t, "XC4.2", *f.store.Price(screw).XCSubcode)
	assert.Equal(t, models.ComponentFixationDevice, *f.store.Price(screw).ComponentType)
	assert.Equal(t, "XC1.4", *f.store.Price(cup).XCSubcode)
	assert.Equal(t, models.ComponentSet, *f.store.Price(kit).ComponentType)
	assert.Nil(t, f.store.Price(lpp).XCSubcode)
	assert.Equal(t, models.ComponentFixationDevice, *f.store.Price(lpp).ComponentType)
	assert.True(t, f.store.Price(cup).HasNote("SUBCODE: XC1.4"))
	assert.Equal(t, decimal.NewFromInt(900).String(), f.store.Price(cup).PriceAmount.String())

	entries := f.store.Corrections()
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, rep.RunID, e.RunID)
		assert.Equal(t, string(DeriveSubcodes), e.Pipeline)
		assert.Equal(t, "reference_prices", e.Table)
	}
}

func TestPipelinesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	hip := f.id("P0908")
	f.store.AddPrice(models.ReferencePrice{SourceCode: "XC1.4", CategoryID: &hip, PriceAmount: decimal.NewFromInt(900)})
	f.store.AddPrice(models.ReferencePrice{SourceCode: "XC1.1", CategoryID: &hip, PriceAmount: decimal.NewFromInt(3000)})
	f.store.AddPrice(models.ReferencePrice{SourceCode: "XC1.5", CategoryID: &hip, ComponentDescription: "Insert partie 1 sur 2", PriceAmount: decimal.NewFromInt(150)})
	f.store.AddPrice(models.ReferencePrice{
		SourceCode:  "XC9",
		CategoryID:  ptr(f.id("P090804")),
		PriceScope:  models.ScopeSet,
		PriceAmount: decimal.NewFromInt(4000),
	})
	f.store.AddProduct(models.Product{Name: "Acetabular cup 52mm"})

	ctx := context.Background()
	_, err := f.runner.RunAll(ctx, Options{})
	require.NoError(t, err)
	writes := len(f.store.Corrections())
	require.Positive(t, writes)
	before := f.store.Writes

	reports, err := f.runner.RunAll(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, reports, len(Order))
	for _, rep := range reports {
		assert.Zero(t, rep.Changed, "pipeline %s changed rows on a second run", rep.Pipeline)
	}
	assert.Equal(t, before, f.store.Writes)
	assert.Len(t, f.store.Corrections(), writes)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	hip := f.id("P0908")
	f.store.AddPrice(models.ReferencePrice{SourceCode: "XC1.4", CategoryID: &hip, PriceAmount: decimal.NewFromInt(900)})
	f.store.AddPrice(models.ReferencePrice{SourceCode: "XC4.1", PriceAmount: decimal.NewFromInt(60)})

	dry, err := f.runner.DeriveSubcodes(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 2, dry.Changed)
	assert.Zero(t, f.store.Writes)
	assert.Empty(t, f.store.Corrections())

	committed, err := f.runner.DeriveSubcodes(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, dry.Changed, committed.Changed)
	assert.Equal(t, dry.ChangedIDs, committed.ChangedIDs)
	assert.Equal(t, dry.Buckets, committed.Buckets)
	assert.Equal(t, dry.Changes, committed.Changes)
	assert.Equal(t, 2, f.store.Writes)
}

func TestMapLeaves(t *testing.T) {
	f := newFixture(t)
	hip := f.id("P0908")
	narrowed := f.store.AddPrice(models.ReferencePrice{XCSubcode: ptr("XC1.4"), CategoryID: &hip})
	contradicts := f.store.AddPrice(models.ReferencePrice{XCSubcode: ptr("XC2.1"), CategoryID: &hip})
	kit := f.store.AddPrice(models.ReferencePrice{XCSubcode: ptr("XC1.1"), CategoryID: &hip})
	noBase := f.store.AddPrice(models.ReferencePrice{XCSubcode: ptr("XC1.4")})
	noSubcode := f.store.AddPrice(models.ReferencePrice{CategoryID: &hip})

	rep, err := f.runner.MapLeaves(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []uint{narrowed}, rep.ChangedIDs)
	assert.Equal(t, map[string]int{
		"narrowed":         1,
		"contradicts":      1,
		"unmapped":         1,
		"no_base_category": 1,
		"no_subcode":       1,
	}, rep.Buckets)
	assert.Equal(t, f.id("P09080301"), *f.store.Price(narrowed).LeafCategoryID)
	for _, id := range []uint{contradicts, kit, noBase, noSubcode} {
		assert.Nil(t, f.store.Price(id).LeafCategoryID)
	}

	again, err := f.runner.MapLeaves(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
	assert.Equal(t, 1, again.Buckets["unchanged"])
}

func TestMapLeavesKeepsExistingLeafWithoutForce(t *testing.T) {
	f := newFixture(t)
	hip := f.id("P0908")
	other := f.id("P090803")
	id := f.store.AddPrice(models.ReferencePrice{XCSubcode: ptr("XC1.4"), CategoryID: &hip, LeafCategoryID: &other})

	rep, err := f.runner.MapLeaves(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, rep.Changed)
	assert.Equal(t, 1, rep.Buckets["kept"])

	rep, err = f.runner.MapLeaves(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Changed)
	assert.Equal(t, f.id("P09080301"), *f.store.Price(id).LeafCategoryID)
}

func TestCorrectKits(t *testing.T) {
	// Arrange
	f := newFixture(t)
	hip := f.id("P0908")
	wrongLeaf := f.id("P09080101")
	legacy := f.store.AddPrice(models.ReferencePrice{
		XCSubcode:      ptr("XC1.1"),
		ComponentType:  ptr(models.ComponentSingle),
		CategoryID:     &hip,
		LeafCategoryID: &wrongLeaf,
		PriceAmount:    decimal.NewFromInt(3200),
	})
	compliant := f.store.AddPrice(models.ReferencePrice{
		XCSubcode:     ptr("XC2.7"),
		ComponentType: ptr(models.ComponentSet),
		CategoryID:    ptr(f.id("P0909")),
	})

	// Act
	rep, err := f.runner.CorrectKits(context.Background(), Options{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []uint{legacy}, rep.ChangedIDs)
	assert.Equal(t, 1, rep.Buckets["kit_reverted"])
	assert.Equal(t, 1, rep.Buckets["type_fixed:set"])
	assert.Equal(t, 1, rep.Buckets["compliant"])

	row := f.store.Price(legacy)
	assert.Nil(t, row.LeafCategoryID)
	assert.Equal(t, hip, *row.CategoryID)
	assert.Equal(t, models.ComponentSet, *row.ComponentType)
	assert.True(t, row.HasNote("KIT_REVERT:"))
	assert.True(t, row.HasNote("TYPE_FIX: subcode XC1.1 component_type single_component -> set"))
	assert.Empty(t, f.store.Price(compliant).Notes)

	again, err := f.runner.CorrectKits(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
	assert.Equal(t, row.Notes, f.store.Price(legacy).Notes)
}

func TestKitSubcodeEndsAsSetWithoutLeaf(t *testing.T) {
	f := newFixture(t)
	hip := f.id("P0908")
	staleLeaf := f.id("P09080101")
	testCases := []struct {
		name string
		leaf *uint
	}{
		{name: "Fresh row"},
		{name: "Row with legacy leaf", leaf: &staleLeaf},
	}

	ids := make([]uint, len(testCases))
	for i, tc := range testCases {
		ids[i] = f.store.AddPrice(models.ReferencePrice{
			SourceCode:           "XC1.1",
			ComponentDescription: "Cemented TEP hip MoP",
			CategoryID:           &hip,
			LeafCategoryID:       tc.leaf,
			PriceAmount:          decimal.NewFromInt(3400),
		})
	}

	ctx := context.Background()
	_, err := f.runner.DeriveSubcodes(ctx, Options{})
	require.NoError(t, err)
	_, err = f.runner.MapLeaves(ctx, Options{})
	require.NoError(t, err)
	_, err = f.runner.CorrectKits(ctx, Options{})
	require.NoError(t, err)

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			row := f.store.Price(ids[i])
			require.NotNil(t, row.XCSubcode)
			assert.Equal(t, "XC1.1", *row.XCSubcode)
			require.NotNil(t, row.ComponentType)
			assert.Equal(t, models.ComponentSet, *row.ComponentType)
			assert.Nil(t, row.LeafCategoryID)
			assert.Equal(t, hip, *row.CategoryID)
		})
	}
}

func TestFlagSplitPrices(t *testing.T) {
	f := newFixture(t)
	split := f.store.AddPrice(models.ReferencePrice{ComponentDescription: "Cotyle double mobilité partie 1 sur 2"})
	partial := f.store.AddPrice(models.ReferencePrice{ComponentDescription: "Partial knee femoral component"})
	f.store.AddPrice(models.ReferencePrice{ComponentDescription: "Tibial tray"})

	rep, err := f.runner.FlagSplitPrices(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []uint{split}, rep.ChangedIDs)
	assert.Equal(t, 2, rep.Scanned)
	assert.True(t, f.store.Price(split).HasNote("SPLIT_PRICE: part 1 of 2"))
	assert.Empty(t, f.store.Price(partial).Notes)

	again, err := f.runner.FlagSplitPrices(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
	assert.Equal(t, 1, strings.Count(f.store.Price(split).Notes, "SPLIT_PRICE:"))
}

func TestDecomposeSets(t *testing.T) {
	f := newFixture(t)
	set := f.store.AddPrice(models.ReferencePrice{
		SourceName:  "LPP",
		SourceCode:  "XC1.1",
		CategoryID:  ptr(f.id("P090804")),
		PriceScope:  models.ScopeSet,
		PriceAmount: decimal.NewFromInt(4000),
	})
	notASet := f.store.AddPrice(models.ReferencePrice{
		CategoryID:  ptr(f.id("P0908")),
		PriceScope:  models.ScopeSet,
		PriceAmount: decimal.NewFromInt(2500),
	})

	rep, err := f.runner.DecomposeSets(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []uint{set}, rep.ChangedIDs)
	assert.Equal(t, 1, rep.Buckets["not_a_set"])
	assert.Empty(t, rep.ValidationFailures)
	assert.True(t, f.store.Price(set).HasNote(NoteDecomposed))
	assert.Empty(t, f.store.Price(notASet).Notes)
	assert.Equal(t, "4000", f.store.Price(set).PriceAmount.String())

	derived := f.store.DerivedFrom(set)
	require.Len(t, derived, 4)
	want := map[string]string{
		"P090801":   "1300.00",
		"P090802":   "500.00",
		"P09080301": "1400.00",
		"P09080302": "800.00",
	}
	for _, d := range derived {
		node, err := f.tree.Node(*d.CategoryID)
		require.NoError(t, err)
		assert.Equal(t, want[node.Code], d.PriceAmount.StringFixed(2), node.Code)
		assert.Equal(t, models.ScopeComponent, d.PriceScope)
		assert.Equal(t, "LPP", d.SourceName)
		assert.True(t, d.HasNote(NoteDecomposed))
	}

	again, err := f.runner.DecomposeSets(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
	assert.Len(t, f.store.DerivedFrom(set), 4)
}

func TestDecomposeSetsSkipsUncorroboratedSets(t *testing.T) {
	f := newFixture(t)
	set := f.store.AddPrice(models.ReferencePrice{
		CategoryID:  ptr(f.id("P090804")),
		PriceScope:  models.ScopeSet,
		PriceAmount: decimal.NewFromInt(4000),
	})
	f.store.AddProduct(models.Product{
		Name:       "Cemented stem",
		CategoryID: ptr(f.id("P09080101")),
		Price:      decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})

	rep, err := f.runner.DecomposeSets(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, rep.ValidationFailures, 1)
	assert.Equal(t, set, rep.ValidationFailures[0].RowID)
	assert.Zero(t, rep.Changed)
	assert.Empty(t, f.store.DerivedFrom(set))
	assert.Empty(t, f.store.Price(set).Notes)
	assert.Zero(t, f.store.Writes)
}

func TestClassifyProducts(t *testing.T) {
	f := newFixture(t)
	stem := f.id("P09080101")
	ceramic := f.store.AddProduct(models.Product{Name: "Ceramic head 32mm"})
	screw := f.store.AddProduct(models.Product{Name: "Bone screw 4.5"})
	wire := f.store.AddProduct(models.Product{Name: "K-wire 1.6mm"})
	unknown := f.store.AddProduct(models.Product{Name: "Unknown gadget"})
	manual := f.store.AddProduct(models.Product{
		Name:                     "Ceramic head 28mm",
		CategoryID:               &stem,
		ClassificationSource:     models.SourceManual,
		ClassificationConfidence: models.ConfidenceHigh,
	})
	kept := f.store.AddProduct(models.Product{
		Name:                     "Bone screw 3.5",
		CategoryID:               &stem,
		ClassificationSource:     models.SourceDocument,
		ClassificationConfidence: models.ConfidenceHigh,
	})

	rep, err := f.runner.ClassifyProducts(context.Background(), Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint{ceramic, screw}, rep.ChangedIDs)
	assert.Equal(t, map[string]int{
		"applied_high":   1,
		"applied_medium": 1,
		"needs_review":   1,
		"unclassifiable": 1,
		"manual":         1,
		"kept":           1,
	}, rep.Buckets)

	got := f.store.Product(ceramic)
	assert.Equal(t, f.id("P09080202"), *got.CategoryID)
	assert.Equal(t, models.SourceRule, got.ClassificationSource)
	assert.Equal(t, models.ConfidenceHigh, got.ClassificationConfidence)
	assert.Equal(t, models.ConfidenceMedium, f.store.Product(screw).ClassificationConfidence)
	assert.Nil(t, f.store.Product(wire).CategoryID)
	assert.Nil(t, f.store.Product(unknown).CategoryID)
	assert.Equal(t, stem, *f.store.Product(manual).CategoryID)
	assert.Equal(t, stem, *f.store.Product(kept).CategoryID)

	forced, err := f.runner.ClassifyProducts(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []uint{kept}, forced.ChangedIDs)
	assert.Equal(t, stem, *f.store.Product(manual).CategoryID)
	assert.Equal(t, f.id("P091201"), *f.store.Product(kept).CategoryID)
}

func TestRebuildMatches(t *testing.T) {
	f := newFixture(t)
	cups := f.id("P09080301")
	product := f.store.AddProduct(models.Product{Name: "Acetabular cup 52mm", CategoryID: &cups})
	direct := f.store.AddPrice(models.ReferencePrice{ProductID: &product, PriceAmount: decimal.NewFromInt(950)})
	leaf := f.store.AddPrice(models.ReferencePrice{CategoryID: &cups, PriceAmount: decimal.NewFromInt(900)})
	ancestor := f.store.AddPrice(models.ReferencePrice{CategoryID: ptr(f.id("P0908")), PriceAmount: decimal.NewFromInt(1200)})
	f.store.AddPrice(models.ReferencePrice{CategoryID: ptr(f.id("P0909")), PriceAmount: decimal.NewFromInt(700)})
	// Estimates derived from a set price are never cached as matches.
	f.store.AddPrice(models.ReferencePrice{CategoryID: &cups, DerivedFromID: &ancestor, PriceAmount: decimal.NewFromInt(400)})

	rep, err := f.runner.RebuildMatches(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []uint{product}, rep.ChangedIDs)

	matches, err := f.store.ListMatches(context.Background(), product)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, direct, matches[0].ReferencePriceID)
	assert.Equal(t, models.MatchProduct, matches[0].MatchType)
	assert.Equal(t, leaf, matches[1].ReferencePriceID)
	assert.Equal(t, models.MatchCategoryLeaf, matches[1].MatchType)
	assert.Equal(t, ancestor, matches[2].ReferencePriceID)
	assert.Equal(t, models.MatchCategoryAncestor, matches[2].MatchType)
	assert.InDelta(t, 0.6, matches[2].MatchScore, 1e-9)

	again, err := f.runner.RebuildMatches(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
	assert.Equal(t, 1, again.Buckets["unchanged"])
}

func TestCancelledRunStopsBetweenBatches(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.store.AddPrice(models.ReferencePrice{SourceCode: "XC4.1"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.runner.DeriveSubcodes(ctx, Options{BatchSize: 1})
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Zero(t, rep.Scanned)
	assert.Zero(t, f.store.Writes)
}

func TestBatchesCoverEveryRow(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.store.AddPrice(models.ReferencePrice{SourceCode: "XC4.1"})
	}

	rep, err := f.runner.DeriveSubcodes(context.Background(), Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Changed)
	assert.False(t, rep.Cancelled)
}

func TestStoreErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.store.Err = boom

	for _, name := range Order {
		_, err := f.runner.Run(context.Background(), name, Options{})
		assert.ErrorIs(t, err, boom, name)
	}
}

func TestParseName(t *testing.T) {
	for _, name := range Order {
		got, err := ParseName(string(name))
		require.NoError(t, err)
		assert.Equal(t, name, got)
	}
	_, err := ParseName("reindex")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
