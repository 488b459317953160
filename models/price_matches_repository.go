package models

import (
	"context"

	"gorm.io/gorm"
)

type PriceMatchesRepository struct {
	db *gorm.DB
}

func NewPriceMatchesRepository(db *gorm.DB) *PriceMatchesRepository {
	return &PriceMatchesRepository{
		db: db,
	}
}

func (r *PriceMatchesRepository) ListMatches(ctx context.Context, productID uint) ([]ProductPriceMatch, error) {
	var matches []ProductPriceMatch
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("match_score DESC, reference_price_id").
		Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

// ReplaceMatches swaps the cached matches of one product for matches.
func (r *PriceMatchesRepository) ReplaceMatches(ctx context.Context, productID uint, matches []ProductPriceMatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&ProductPriceMatch{}).Error; err != nil {
			return err
		}
		if len(matches) == 0 {
			return nil
		}
		return tx.Create(&matches).Error
	})
}

type CorrectionsRepository struct {
	db *gorm.DB
}

func NewCorrectionsRepository(db *gorm.DB) *CorrectionsRepository {
	return &CorrectionsRepository{
		db: db,
	}
}

// AppendCorrections writes audit entries. The log is append-only.
func (r *CorrectionsRepository) AppendCorrections(ctx context.Context, entries []CorrectionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *CorrectionsRepository) ListCorrections(ctx context.Context, runID string) ([]CorrectionEntry, error) {
	var entries []CorrectionEntry
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
