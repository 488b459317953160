package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClassificationSource records who set Product.CategoryID.
type ClassificationSource string

const (
	SourceRule     ClassificationSource = "rule"
	SourceDocument ClassificationSource = "document"
	SourceInferred ClassificationSource = "inferred"
	SourceManual   ClassificationSource = "manual"
)

// Product represents a device in the catalog.
// CategoryID is set by the classifier or by a manual override and carries the
// confidence of the assignment so later runs know whether they may replace it.
type Product struct {
	ID                       uint                 `gorm:"primaryKey"`
	Name                     string               `gorm:"not null"`
	SKU                      *string              `gorm:"column:sku;uniqueIndex"`
	ManufacturerName         string               `gorm:"not null;default:''"`
	CategoryID               *uint                `gorm:"index"`
	Category                 *Category            `gorm:"foreignKey:CategoryID"`
	ClassificationSource     ClassificationSource `gorm:"not null;default:''"`
	ClassificationConfidence Confidence           `gorm:"not null;default:''"`
	Price                    decimal.NullDecimal  `gorm:"type:decimal(12,2)"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (p *Product) TableName() string {
	return "products"
}

// IsManuallyClassified reports whether a person chose the category.
func (p *Product) IsManuallyClassified() bool {
	return p.CategoryID != nil && p.ClassificationSource == SourceManual
}

// ProductClassification is the set of fields written together when a
// product's category changes.
type ProductClassification struct {
	CategoryID *uint
	Source     ClassificationSource
	Confidence Confidence
}
