// Package ingest turns import rows into classified catalog products.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/classify"
	"github.com/medtariff/refprice/extraction"
	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
)

// Row is the shape import wizards hand over after parsing a file.
type Row struct {
	RawText      string
	Name         string
	SKU          string
	Manufacturer string
	Price        decimal.NullDecimal
}

// ProductStore persists products.
type ProductStore interface {
	GetBySKU(ctx context.Context, sku string) (*models.Product, error)
	UpsertProduct(ctx context.Context, product *models.Product) error
}

// Result reports how one row was imported.
type Result struct {
	Product    models.Product
	Extraction extraction.Outcome
	// Code is the assigned category code, empty when unclassified.
	Code string
	// NeedsReview is set when a classification was found but was not
	// confident enough to apply.
	NeedsReview bool
	// Kept is set when a stored classification was left in place.
	Kept bool
}

// candidate is a classification proposed for an imported row.
type candidate struct {
	categoryID uint
	code       string
	source     models.ClassificationSource
	confidence models.Confidence
}

type Importer struct {
	products   ProductStore
	extractor  extraction.Extractor
	classifier *classify.Classifier
	tree       *hierarchy.Tree
	minApply   models.Confidence
	timeout    time.Duration
	logger     *zap.Logger
}

// NewImporter builds an importer. Classifications below minApply are
// reported for review instead of being applied; an empty minApply means
// medium.
func NewImporter(products ProductStore, extractor extraction.Extractor, classifier *classify.Classifier, tree *hierarchy.Tree, minApply models.Confidence, timeout time.Duration, logger *zap.Logger) *Importer {
	if minApply == "" {
		minApply = models.ConfidenceMedium
	}
	return &Importer{
		products:   products,
		extractor:  extractor,
		classifier: classifier,
		tree:       tree,
		minApply:   minApply,
		timeout:    timeout,
		logger:     logger,
	}
}

// Import extracts, classifies and upserts one row. A category suggested by
// the extraction service wins when it exists in the hierarchy; otherwise the
// rule classifier is the fallback. Results below the minimum confidence are
// not applied. A classification already stored for the same SKU is kept
// when it is manual, or when the new result is missing or less confident.
func (i *Importer) Import(ctx context.Context, row Row) (*Result, error) {
	raw := row.RawText
	if raw == "" {
		raw = row.Name
	}

	outcome := extraction.Lookup(ctx, i.extractor, raw, i.timeout)
	log := i.logger.With(zap.String("sku", row.SKU), zap.Stringer("extraction", outcome.Status))
	if outcome.Status == extraction.StatusUnavailable {
		log.Warn("Extraction service unavailable, using rule classifier", zap.Error(outcome.Err), zap.Bool("timed_out", outcome.TimedOut))
	}
	if outcome.Record != nil {
		row = fillFromRecord(row, outcome.Record)
	}

	name := strings.TrimSpace(row.Name)
	if name == "" {
		return nil, fmt.Errorf("import row %q: product name required: %w", row.SKU, models.ErrInvalidArgument)
	}

	product := models.Product{
		Name:             name,
		ManufacturerName: strings.TrimSpace(row.Manufacturer),
		Price:            row.Price,
	}
	if sku := strings.TrimSpace(row.SKU); sku != "" {
		product.SKU = &sku
	}

	res := &Result{Extraction: outcome}

	existing, err := i.existing(ctx, product.SKU)
	if err != nil {
		return nil, err
	}
	cand := i.classify(product, outcome, log)
	if cand != nil && !cand.confidence.AtLeast(i.minApply) {
		log.Info("Classification below apply threshold, left for review",
			zap.String("code", cand.code), zap.String("confidence", string(cand.confidence)))
		res.NeedsReview = true
		cand = nil
	}

	switch {
	case existing != nil && keepExisting(existing, cand):
		product.CategoryID = existing.CategoryID
		product.ClassificationSource = existing.ClassificationSource
		product.ClassificationConfidence = existing.ClassificationConfidence
		res.Kept = true
		if node, err := i.tree.Node(*existing.CategoryID); err == nil {
			res.Code = node.Code
		}
	case cand != nil:
		id := cand.categoryID
		product.CategoryID = &id
		product.ClassificationSource = cand.source
		product.ClassificationConfidence = cand.confidence
		res.Code = cand.code
	}

	if err := i.products.UpsertProduct(ctx, &product); err != nil {
		return nil, err
	}
	res.Product = product
	return res, nil
}

func (i *Importer) existing(ctx context.Context, sku *string) (*models.Product, error) {
	if sku == nil {
		return nil, nil
	}
	p, err := i.products.GetBySKU(ctx, *sku)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// keepExisting reports whether a stored classification survives a
// re-import. A category is never replaced by nothing, and never by a less
// confident result.
func keepExisting(existing *models.Product, cand *candidate) bool {
	if existing.CategoryID == nil {
		return false
	}
	if existing.IsManuallyClassified() || cand == nil {
		return true
	}
	return !cand.confidence.AtLeast(existing.ClassificationConfidence)
}

func (i *Importer) classify(product models.Product, outcome extraction.Outcome, log *zap.Logger) *candidate {
	if outcome.Status == extraction.StatusFound {
		code := strings.TrimSpace(outcome.Record.SuggestedCategoryCode)
		node, err := i.tree.ByCode(code)
		if err == nil {
			source, confidence := suggestionSource(outcome.Record.Source)
			return &candidate{categoryID: node.ID, code: node.Code, source: source, confidence: confidence}
		}
		log.Info("Suggested category not in hierarchy, using rule classifier", zap.String("suggested_code", code))
	}

	r := i.classifier.Classify(classify.Input{Name: product.Name, Manufacturer: product.ManufacturerName})
	if r == nil {
		return nil
	}
	return &candidate{categoryID: r.CategoryID, code: r.Code, source: models.SourceRule, confidence: r.Confidence}
}

func suggestionSource(s extraction.Source) (models.ClassificationSource, models.Confidence) {
	switch s {
	case extraction.SourceDocument:
		return models.SourceDocument, models.ConfidenceHigh
	case extraction.SourceInferred:
		return models.SourceInferred, models.ConfidenceMedium
	}
	return models.SourceInferred, models.ConfidenceLow
}

func fillFromRecord(row Row, rec *extraction.Record) Row {
	if row.Name == "" {
		row.Name = rec.Name
	}
	if row.SKU == "" {
		row.SKU = rec.SKU
	}
	if row.Manufacturer == "" {
		row.Manufacturer = rec.Manufacturer
	}
	return row
}
