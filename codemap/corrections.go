package codemap

import (
	"fmt"
	"strings"

	"github.com/medtariff/refprice/models"
)

// NarrowOutcome explains what leaf resolution did with a row.
type NarrowOutcome string

const (
	Narrowed       NarrowOutcome = "narrowed"
	Unchanged      NarrowOutcome = "unchanged"
	NoSubcode      NarrowOutcome = "no_subcode"
	Unmapped       NarrowOutcome = "unmapped"
	NoBaseCategory NarrowOutcome = "no_base_category"
	Contradicts    NarrowOutcome = "contradicts"
)

// Narrow resolves the leaf category of a price row from its subcode. The
// mapper only narrows: the leaf must be the row's base category or one of
// its descendants, and rows without an explicit mapping keep their broad
// classification.
func (m *Mapper) Narrow(p *models.ReferencePrice) (models.Category, NarrowOutcome) {
	if p.XCSubcode == nil || *p.XCSubcode == "" {
		return models.Category{}, NoSubcode
	}
	leaf, ok := m.Leaf(*p.XCSubcode)
	if !ok {
		return models.Category{}, Unmapped
	}
	if p.CategoryID == nil {
		return leaf, NoBaseCategory
	}
	inside, err := m.tree.IsDescendantOrSelf(leaf.ID, *p.CategoryID)
	if err != nil || !inside {
		return leaf, Contradicts
	}
	if p.LeafCategoryID != nil && *p.LeafCategoryID == leaf.ID {
		return leaf, Unchanged
	}
	return leaf, Narrowed
}

// Note markers appended to ReferencePrice.Notes by corrections.
const (
	NoteKitRevert = "KIT_REVERT:"
	NoteTypeFix   = "TYPE_FIX:"
)

// KitCorrection returns the patch that brings a row in line with the kit
// revert list and the component type overrides. The patch is empty when the
// row already complies, so applying it twice writes nothing the second time.
func (m *Mapper) KitCorrection(p *models.ReferencePrice) models.ReferencePricePatch {
	var patch models.ReferencePricePatch
	if p.XCSubcode == nil {
		return patch
	}
	sub := *p.XCSubcode

	var notes []string
	if m.IsKitSubcode(sub) && p.LeafCategoryID != nil {
		patch.ClearLeaf = true
		notes = append(notes, fmt.Sprintf("%s subcode %s prices a complete kit, leaf category %d cleared",
			NoteKitRevert, sub, *p.LeafCategoryID))
	}
	if ct, ok := m.Override(sub); ok && (p.ComponentType == nil || *p.ComponentType != ct) {
		before := "null"
		if p.ComponentType != nil {
			before = string(*p.ComponentType)
		}
		patch.ComponentType = &ct
		notes = append(notes, fmt.Sprintf("%s subcode %s component_type %s -> %s", NoteTypeFix, sub, before, ct))
	}
	patch.AppendNote = strings.Join(notes, models.NoteSeparator)
	return patch
}
