package models

import (
	"time"

	"github.com/lib/pq"
)

// ProductPriceMatch caches one resolver result for a product. Rows are
// regenerable from Product and ReferencePrice state and safe to rebuild.
type ProductPriceMatch struct {
	ID               uint      `gorm:"primaryKey"`
	ProductID        uint      `gorm:"not null;uniqueIndex:idx_product_price_match"`
	ReferencePriceID uint      `gorm:"not null;uniqueIndex:idx_product_price_match"`
	MatchType        MatchType `gorm:"not null"`
	MatchScore       float64   `gorm:"not null"`
	MatchReason      string    `gorm:"not null;default:''"`
	CreatedAt        time.Time
}

func (m *ProductPriceMatch) TableName() string {
	return "product_price_matches"
}

// SameAs compares the regenerable content of two matches.
func (m ProductPriceMatch) SameAs(other ProductPriceMatch) bool {
	return m.ProductID == other.ProductID &&
		m.ReferencePriceID == other.ReferencePriceID &&
		m.MatchType == other.MatchType &&
		m.MatchScore == other.MatchScore &&
		m.MatchReason == other.MatchReason
}

// CorrectionEntry is one audit record written by a batch pipeline.
type CorrectionEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RunID     string         `gorm:"type:uuid;not null;index" json:"run_id"`
	Pipeline  string         `gorm:"not null" json:"pipeline"`
	Table     string         `gorm:"column:table_name;not null" json:"table"`
	RowID     uint           `gorm:"not null" json:"row_id"`
	Fields    pq.StringArray `gorm:"type:text[]" json:"fields"`
	Note      string         `gorm:"not null;default:''" json:"note"`
	CreatedAt time.Time      `json:"created_at"`
}

func (c *CorrectionEntry) TableName() string {
	return "correction_log"
}
