package models

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReferencePricesRepository struct {
	db *gorm.DB
}

func NewReferencePricesRepository(db *gorm.DB) *ReferencePricesRepository {
	return &ReferencePricesRepository{
		db: db,
	}
}

func (r *ReferencePricesRepository) filtered(ctx context.Context, f ReferencePriceFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&ReferencePrice{})

	if len(f.IDs) > 0 {
		query = query.Where("id IN ?", f.IDs)
	}
	if f.ProductID != nil {
		query = query.Where("product_id = ?", *f.ProductID)
	}
	if f.SourceName != "" {
		query = query.Where("source_name = ?", f.SourceName)
	}
	if len(f.SubcodeIn) > 0 {
		query = query.Where("xc_subcode IN ?", f.SubcodeIn)
	}
	if f.PriceScope != "" {
		query = query.Where("price_scope = ?", f.PriceScope)
	}
	if f.MissingDerived {
		query = query.Where("(xc_subcode IS NULL OR component_type IS NULL)")
	}
	if f.HasLeaf {
		query = query.Where("leaf_category_id IS NOT NULL")
	}
	if f.DescriptionLike != "" {
		query = query.Where("component_description ILIKE ?", "%"+escapeLike(f.DescriptionLike)+"%")
	}
	if f.ExcludeDerived {
		query = query.Where("derived_from_id IS NULL")
	}
	if f.NotesNotContain != "" {
		query = query.Where("notes NOT LIKE ?", "%"+escapeLike(f.NotesNotContain)+"%")
	}
	if len(f.EffectiveCategory) > 0 {
		query = query.Where(
			"(leaf_category_id IN ? OR (leaf_category_id IS NULL AND category_id IN ?))",
			f.EffectiveCategory, f.EffectiveCategory,
		)
	}
	return query
}

// ListReferencePrices selects rows matching the filter in id order.
func (r *ReferencePricesRepository) ListReferencePrices(ctx context.Context, f ReferencePriceFilter) ([]ReferencePrice, error) {
	var prices []ReferencePrice
	if err := r.filtered(ctx, f).Order("id").Find(&prices).Error; err != nil {
		return nil, err
	}
	return prices, nil
}

// ListReferencePriceIDs snapshots the ids matching the filter in id order.
func (r *ReferencePricesRepository) ListReferencePriceIDs(ctx context.Context, f ReferencePriceFilter) ([]uint, error) {
	var ids []uint
	if err := r.filtered(ctx, f).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *ReferencePricesRepository) GetReferencePrice(ctx context.Context, id uint) (*ReferencePrice, error) {
	var price ReferencePrice
	if err := r.db.WithContext(ctx).First(&price, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferencePriceNotFound
		}
		return nil, err
	}
	return &price, nil
}

func patchColumns(p ReferencePricePatch) map[string]any {
	cols := make(map[string]any)
	if p.XCSubcode != nil {
		cols["xc_subcode"] = *p.XCSubcode
	}
	if p.ComponentType != nil {
		cols["component_type"] = *p.ComponentType
	}
	if p.ClearLeaf {
		cols["leaf_category_id"] = nil
	} else if p.LeafCategoryID != nil {
		cols["leaf_category_id"] = *p.LeafCategoryID
	}
	if p.AppendNote != "" {
		cols["notes"] = gorm.Expr("CONCAT_WS(?::text, NULLIF(notes, ''), ?::text)", NoteSeparator, p.AppendNote)
	}
	return cols
}

// UpdateReferencePrice applies patch to one row in a single statement so a
// correction is never partially applied.
func (r *ReferencePricesRepository) UpdateReferencePrice(ctx context.Context, id uint, patch ReferencePricePatch) error {
	if patch.IsEmpty() {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&ReferencePrice{}).Where("id = ?", id).Updates(patchColumns(patch))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReferencePriceNotFound
	}
	return nil
}

// UpdateReferencePrices applies the same patch to every id and returns the
// number of rows changed.
func (r *ReferencePricesRepository) UpdateReferencePrices(ctx context.Context, ids []uint, patch ReferencePricePatch) (int64, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&ReferencePrice{}).Where("id IN ?", ids).Updates(patchColumns(patch))
	return res.RowsAffected, res.Error
}

// CreateReferencePrice inserts a row.
func (r *ReferencePricesRepository) CreateReferencePrice(ctx context.Context, price *ReferencePrice) error {
	return r.db.WithContext(ctx).Create(price).Error
}

// UpsertDerivedPrice inserts a decomposition row unless one already exists
// for the same source row and category. It reports whether a row was created.
func (r *ReferencePricesRepository) UpsertDerivedPrice(ctx context.Context, price *ReferencePrice) (bool, error) {
	if price.DerivedFromID == nil || price.CategoryID == nil {
		return false, fmt.Errorf("derived price needs a source row and category: %w", ErrInvalidArgument)
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "derived_from_id"}, {Name: "category_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "derived_from_id IS NOT NULL"}}},
		DoNothing:   true,
	}).Create(price)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
