package models

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CategoriesRepository struct {
	db *gorm.DB
}

func NewCategoriesRepository(db *gorm.DB) *CategoriesRepository {
	return &CategoriesRepository{
		db: db,
	}
}

// GetAllCategories returns every node ordered by path, parents before children.
func (r *CategoriesRepository) GetAllCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := r.db.WithContext(ctx).Order("path").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *CategoriesRepository) GetByCode(ctx context.Context, code string) (*Category, error) {
	var category Category
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return &category, nil
}

// ListSubtree returns the node at path and all of its descendants.
func (r *CategoriesRepository) ListSubtree(ctx context.Context, path string) ([]Category, error) {
	var categories []Category
	if err := r.db.WithContext(ctx).
		Where("path = ? OR path LIKE ?", path, escapeLike(path+PathSeparator)+"%").
		Order("path").
		Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// Upsert inserts a node or, when the code already exists, refreshes its name.
// Structural fields are never rewritten once a node exists.
func (r *CategoriesRepository) Upsert(ctx context.Context, category *Category) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(category).Error
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %s path %s: %w", category.Code, category.Path, ErrIntegrityViolation)
		}
		return err
	}

	if category.ID == 0 {
		existing, err := r.GetByCode(ctx, category.Code)
		if err != nil {
			return err
		}
		*category = *existing
	}
	return nil
}

// Rename changes a node's display name, the only mutation allowed after import.
func (r *CategoriesRepository) Rename(ctx context.Context, id uint, name string) error {
	res := r.db.WithContext(ctx).Model(&Category{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCategoryNotFound
	}
	return nil
}
