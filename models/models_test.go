package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	ct, err := ParseComponentType("revision_set")
	require.NoError(t, err)
	assert.Equal(t, ComponentRevisionSet, ct)
	_, err = ParseComponentType("kit")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	scope, err := ParsePriceScope("procedure")
	require.NoError(t, err)
	assert.Equal(t, ScopeProcedure, scope)
	_, err = ParsePriceScope("")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c, err := ParseConfidence("medium")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceMedium, c)
	_, err = ParseConfidence("certain")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestComponentTypeIsKit(t *testing.T) {
	for _, ct := range ComponentTypes {
		want := ct == ComponentSet || ct == ComponentRevisionSet
		assert.Equal(t, want, ct.IsKit(), string(ct))
	}
	assert.Panics(t, func() { ComponentType("bogus").IsKit() })
}

func TestMatchTypeRank(t *testing.T) {
	assert.Less(t, MatchProduct.Rank(), MatchCategoryLeaf.Rank())
	assert.Less(t, MatchCategoryLeaf.Rank(), MatchCategoryAncestor.Rank())
	assert.False(t, MatchType("nearby").Valid())
	assert.Panics(t, func() { MatchType("nearby").Rank() })
}

func TestConfidenceAtLeast(t *testing.T) {
	testCases := []struct {
		c, min   Confidence
		expected bool
	}{
		{c: ConfidenceHigh, min: ConfidenceMedium, expected: true},
		{c: ConfidenceMedium, min: ConfidenceMedium, expected: true},
		{c: ConfidenceLow, min: ConfidenceMedium, expected: false},
		{c: "", min: ConfidenceLow, expected: false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, tc.c.AtLeast(tc.min), "%q >= %q", tc.c, tc.min)
	}
}

func TestCategoryPath(t *testing.T) {
	root := uint(1)
	hip := &Category{ID: 2, Code: "P0908", ParentID: &root, Depth: 1, Path: "P09.P0908"}
	stems := &Category{ID: 3, Code: "P090801", Path: "P09.P0908.P090801"}
	sibling := &Category{ID: 4, Code: "P09081", Path: "P09.P09081"}

	assert.Equal(t, []string{"P09", "P0908"}, hip.PathCodes())
	assert.Nil(t, (&Category{}).PathCodes())
	assert.False(t, hip.IsRoot())
	assert.True(t, hip.Contains(hip))
	assert.True(t, hip.Contains(stems))
	assert.False(t, hip.Contains(sibling))
	assert.False(t, stems.Contains(hip))
}

func TestReferencePricePatch(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		p := ReferencePricePatch{}
		assert.True(t, p.IsEmpty())
		assert.Empty(t, p.Fields())
	})

	t.Run("Apply sets fields and appends note", func(t *testing.T) {
		sub := "XC0101"
		kit := ComponentSet
		leaf := uint(9)
		p := ReferencePricePatch{XCSubcode: &sub, ComponentType: &kit, LeafCategoryID: &leaf, AppendNote: "mapped"}
		row := &ReferencePrice{Notes: "imported"}

		p.Apply(row)

		assert.False(t, p.IsEmpty())
		assert.Equal(t, []string{"xc_subcode", "component_type", "leaf_category_id", "notes"}, p.Fields())
		require.NotNil(t, row.XCSubcode)
		assert.Equal(t, "XC0101", *row.XCSubcode)
		assert.Equal(t, ComponentSet, *row.ComponentType)
		assert.Equal(t, uint(9), *row.LeafCategoryID)
		assert.Equal(t, "imported\nmapped", row.Notes)
		assert.True(t, row.HasNote("mapped"))

		sub = "changed"
		assert.Equal(t, "XC0101", *row.XCSubcode)
	})

	t.Run("ClearLeaf wins over LeafCategoryID", func(t *testing.T) {
		leaf, other := uint(9), uint(3)
		row := &ReferencePrice{CategoryID: &other, LeafCategoryID: &leaf}

		ReferencePricePatch{ClearLeaf: true, LeafCategoryID: &leaf}.Apply(row)

		assert.Nil(t, row.LeafCategoryID)
		assert.Equal(t, &other, row.EffectiveCategoryID())
	})
}

func TestAppendNote(t *testing.T) {
	assert.Equal(t, "a", AppendNote("", "a"))
	assert.Equal(t, "a", AppendNote("a", ""))
	assert.Equal(t, "a\nb", AppendNote("a", "b"))
}

func TestReferencePriceHasNote(t *testing.T) {
	rows := []ReferencePrice{{Notes: "imported\nKIT_REVERT: leaf 12"}}

	assert.True(t, rows[0].HasNote("KIT_REVERT:"))
	assert.False(t, ReferencePrice{Notes: "imported"}.HasNote("KIT_REVERT:"))
	assert.False(t, ReferencePrice{}.HasNote("KIT_REVERT:"))
}

func TestProductPriceMatchSameAs(t *testing.T) {
	a := ProductPriceMatch{ID: 1, ProductID: 5, ReferencePriceID: 7, MatchType: MatchCategoryLeaf, MatchScore: 0.9, MatchReason: "leaf P090801"}
	b := a
	b.ID = 99

	assert.True(t, a.SameAs(b))
	b.MatchScore = 0.8
	assert.False(t, a.SameAs(b))
}

func TestProductIsManuallyClassified(t *testing.T) {
	id := uint(3)
	assert.True(t, (&Product{CategoryID: &id, ClassificationSource: SourceManual}).IsManuallyClassified())
	assert.False(t, (&Product{ClassificationSource: SourceManual}).IsManuallyClassified())
	assert.False(t, (&Product{CategoryID: &id, ClassificationSource: SourceRule}).IsManuallyClassified())
}
