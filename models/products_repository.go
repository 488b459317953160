package models

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductsRepository struct {
	db *gorm.DB
}

type ProductFilters struct {
	// CategoryPath restricts results to a category and its descendants.
	CategoryPath  string
	PriceLessThan *float64
}

func NewProductsRepository(db *gorm.DB) *ProductsRepository {
	return &ProductsRepository{
		db: db,
	}
}

func (r *ProductsRepository) GetFilteredProducts(ctx context.Context, offset, limit int, filters ProductFilters) ([]Product, int64, error) {
	var products []Product
	var total int64

	query := r.db.WithContext(ctx).Model(&Product{}).
		Joins("LEFT JOIN categories ON categories.id = products.category_id").
		Preload("Category")

	// Filter
	if filters.CategoryPath != "" {
		query = query.Where("(categories.path = ? OR categories.path LIKE ?)",
			filters.CategoryPath, escapeLike(filters.CategoryPath+PathSeparator)+"%")
	}
	if filters.PriceLessThan != nil {
		query = query.Where("products.price < ?", *filters.PriceLessThan)
	}

	// Count total after filtering
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if err := query.Order("products.id").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

func (r *ProductsRepository) GetByID(ctx context.Context, id uint) (*Product, error) {
	var product Product
	if err := r.db.WithContext(ctx).
		Preload("Category").
		First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err // Other DB error
	}
	return &product, nil
}

func (r *ProductsRepository) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	var product Product
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// ListProductIDs snapshots product ids in id order.
func (r *ProductsRepository) ListProductIDs(ctx context.Context, onlyClassified bool) ([]uint, error) {
	var ids []uint
	query := r.db.WithContext(ctx).Model(&Product{})
	if onlyClassified {
		query = query.Where("category_id IS NOT NULL")
	}
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *ProductsRepository) GetProducts(ctx context.Context, ids []uint) ([]Product, error) {
	var products []Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ListPricedByCategories returns products with an observed price whose
// category is one of categoryIDs.
func (r *ProductsRepository) ListPricedByCategories(ctx context.Context, categoryIDs []uint) ([]Product, error) {
	var products []Product
	if len(categoryIDs) == 0 {
		return products, nil
	}
	if err := r.db.WithContext(ctx).
		Where("category_id IN ? AND price IS NOT NULL", categoryIDs).
		Order("id").
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// UpdateClassification writes the category, source and confidence of one
// product in a single statement.
func (r *ProductsRepository) UpdateClassification(ctx context.Context, id uint, c ProductClassification) error {
	res := r.db.WithContext(ctx).Model(&Product{}).Where("id = ?", id).Updates(map[string]any{
		"category_id":               c.CategoryID,
		"classification_source":     c.Source,
		"classification_confidence": c.Confidence,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// UpsertProduct inserts a product or updates the row with the same SKU.
// Products without a SKU are always inserted.
func (r *ProductsRepository) UpsertProduct(ctx context.Context, product *Product) error {
	db := r.db.WithContext(ctx)
	if product.SKU == nil || *product.SKU == "" {
		product.SKU = nil
		return db.Create(product).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "manufacturer_name", "category_id", "classification_source",
			"classification_confidence", "price", "updated_at",
		}),
	}).Create(product).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
