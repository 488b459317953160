package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReferencePrice is a price observed in an external registry.
// CategoryID keeps the broad classification the row was imported with;
// LeafCategoryID is the narrower node derived by the code mapper and, when
// present, is always CategoryID itself or one of its descendants.
type ReferencePrice struct {
	ID                   uint            `gorm:"primaryKey"`
	ProductID            *uint           `gorm:"index"`
	PriceAmount          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency             string          `gorm:"not null;default:'EUR'"`
	SourceCountry        string          `gorm:"not null;default:''"`
	SourceName           string          `gorm:"not null;default:''"`
	SourceCode           string          `gorm:"not null;default:''"`
	XCSubcode            *string         `gorm:"column:xc_subcode;index"`
	ComponentType        *ComponentType
	PriceScope           PriceScope `gorm:"not null;default:'component'"`
	CategoryID           *uint      `gorm:"index"`
	LeafCategoryID       *uint      `gorm:"index"`
	ComponentDescription string     `gorm:"not null;default:''"`
	Notes                string     `gorm:"not null;default:''"`
	DerivedFromID        *uint      `gorm:"index"`
	CreatedAt            time.Time
}

func (r *ReferencePrice) TableName() string {
	return "reference_prices"
}

// EffectiveCategoryID is the leaf category when the mapper narrowed the row,
// the original category otherwise.
func (r *ReferencePrice) EffectiveCategoryID() *uint {
	if r.LeafCategoryID != nil {
		return r.LeafCategoryID
	}
	return r.CategoryID
}

// HasNote reports whether the audit trail already carries marker.
func (r ReferencePrice) HasNote(marker string) bool {
	return strings.Contains(r.Notes, marker)
}

// NoteSeparator separates entries appended to ReferencePrice.Notes.
const NoteSeparator = "\n"

// AppendNote returns notes with note appended. Notes are never rewritten.
func AppendNote(notes, note string) string {
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + NoteSeparator + note
}

// ReferencePricePatch is the set of classification fields a pipeline may
// change on a single row. Nil fields are left untouched. Price values are
// not part of the patch on purpose: the engine never rewrites them.
type ReferencePricePatch struct {
	XCSubcode      *string
	ComponentType  *ComponentType
	LeafCategoryID *uint
	ClearLeaf      bool
	AppendNote     string
}

// IsEmpty reports whether the patch changes nothing.
func (p ReferencePricePatch) IsEmpty() bool {
	return p.XCSubcode == nil && p.ComponentType == nil && p.LeafCategoryID == nil &&
		!p.ClearLeaf && p.AppendNote == ""
}

// Fields lists the column names the patch touches.
func (p ReferencePricePatch) Fields() []string {
	var fields []string
	if p.XCSubcode != nil {
		fields = append(fields, "xc_subcode")
	}
	if p.ComponentType != nil {
		fields = append(fields, "component_type")
	}
	if p.LeafCategoryID != nil || p.ClearLeaf {
		fields = append(fields, "leaf_category_id")
	}
	if p.AppendNote != "" {
		fields = append(fields, "notes")
	}
	return fields
}

// Apply mutates r the same way the store applies the patch.
func (p ReferencePricePatch) Apply(r *ReferencePrice) {
	if p.XCSubcode != nil {
		v := *p.XCSubcode
		r.XCSubcode = &v
	}
	if p.ComponentType != nil {
		v := *p.ComponentType
		r.ComponentType = &v
	}
	if p.ClearLeaf {
		r.LeafCategoryID = nil
	} else if p.LeafCategoryID != nil {
		v := *p.LeafCategoryID
		r.LeafCategoryID = &v
	}
	r.Notes = AppendNote(r.Notes, p.AppendNote)
}

// ReferencePriceFilter selects reference price rows. Empty fields do not
// filter. Rows are always returned ordered by id.
type ReferencePriceFilter struct {
	IDs               []uint
	ProductID         *uint
	SourceName        string
	SubcodeIn         []string
	PriceScope        PriceScope
	MissingDerived    bool // xc_subcode or component_type is null
	HasLeaf           bool
	DescriptionLike   string
	ExcludeDerived    bool
	NotesNotContain   string
	EffectiveCategory []uint
}
