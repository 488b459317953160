package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/app/api"
	"github.com/medtariff/refprice/ingest"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/pricing"
)

type Response struct {
	Total    int       `json:"total"`
	Products []Product `json:"products"`
}

type Category struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type Product struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	SKU          string    `json:"sku,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Price        *float64  `json:"price"`
	Category     *Category `json:"category"`
	Source       string    `json:"classification_source,omitempty"`
	Confidence   string    `json:"classification_confidence,omitempty"`
}

type PriceMatch struct {
	ReferencePriceID uint    `json:"reference_price_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	SourceName       string  `json:"source_name"`
	SourceCode       string  `json:"source_code"`
	Description      string  `json:"description"`
	MatchType        string  `json:"match_type"`
	Score            float64 `json:"score"`
	Reason           string  `json:"reason"`
	Partial          bool    `json:"partial"`
	Estimated        bool    `json:"estimated"`
	Notes            string  `json:"notes,omitempty"`
}

type PricesResponse struct {
	Product Product      `json:"product"`
	Matches []PriceMatch `json:"matches"`
}

type ProductProvider interface {
	GetFilteredProducts(ctx context.Context, offset, limit int, filters models.ProductFilters) ([]models.Product, int64, error)
	GetByID(ctx context.Context, id uint) (*models.Product, error)
}

// CategoryIndex resolves category codes, normally the in-memory hierarchy.
type CategoryIndex interface {
	ByCode(code string) (models.Category, error)
}

type PriceResolver interface {
	Resolve(ctx context.Context, q pricing.Query) ([]pricing.Match, error)
}

type RowImporter interface {
	Import(ctx context.Context, row ingest.Row) (*ingest.Result, error)
}

type CatalogHandler struct {
	repo       ProductProvider
	categories CategoryIndex
	resolver   PriceResolver
	importer   RowImporter
	logger     *zap.Logger
}

func NewCatalogHandler(r ProductProvider, categories CategoryIndex, resolver PriceResolver, importer RowImporter, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		repo:       r,
		categories: categories,
		resolver:   resolver,
		importer:   importer,
		logger:     logger,
	}
}

func (h *CatalogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	// Parse pagination query params
	offset := 0
	limit := 10

	if oStr := r.URL.Query().Get("offset"); oStr != "" {
		if o, err := strconv.Atoi(oStr); err == nil && o >= 0 {
			offset = o
		}
	}

	if lStr := r.URL.Query().Get("limit"); lStr != "" {
		if l, err := strconv.Atoi(lStr); err == nil {
			limit = min(max(l, 1), 100)
		}
	}

	// Parse filters. A category filter includes the whole subtree.
	var filters models.ProductFilters
	if code := r.URL.Query().Get("category"); code != "" {
		node, err := h.categories.ByCode(code)
		if err != nil {
			api.WriteError(w, http.StatusNotFound, "category not found")
			return
		}
		filters.CategoryPath = node.Path
	}
	if priceStr := r.URL.Query().Get("price_lt"); priceStr != "" {
		if val, err := strconv.ParseFloat(priceStr, 64); err == nil {
			filters.PriceLessThan = &val
		}
	}

	res, total, err := h.repo.GetFilteredProducts(r.Context(), offset, limit, filters)
	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "failed to get products")
		return
	}

	products := make([]Product, len(res))
	for i, p := range res {
		products[i] = toProduct(p)
	}

	api.WriteJSON(w, http.StatusOK, Response{
		Total:    int(total),
		Products: products,
	})
}

// HandleGetPrices resolves the reference prices of one product. An optional
// category query parameter overrides the product's own category, and
// include_estimated=true adds prices estimated from set decompositions.
func (h *CatalogHandler) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(r, "id")
	if !ok {
		api.WriteError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to load product", zap.Uint("product_id", id), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "failed to retrieve product")
		return
	}

	q := pricing.Query{ProductID: &id}
	if code := r.URL.Query().Get("category"); code != "" {
		node, err := h.categories.ByCode(code)
		if err != nil {
			api.WriteError(w, http.StatusNotFound, "category not found")
			return
		}
		q.CategoryID = &node.ID
	}
	if v, err := strconv.ParseBool(r.URL.Query().Get("include_estimated")); err == nil {
		q.IncludeEstimated = v
	}

	matches, err := h.resolver.Resolve(r.Context(), q)
	if err != nil {
		h.logger.Error("Failed to resolve prices", zap.Uint("product_id", id), zap.Error(err))
		api.WriteError(w, api.StatusFor(err), "failed to resolve prices")
		return
	}

	resp := PricesResponse{Product: toProduct(*product), Matches: make([]PriceMatch, len(matches))}
	for i, m := range matches {
		resp.Matches[i] = PriceMatch{
			ReferencePriceID: m.Price.ID,
			Amount:           m.Price.PriceAmount.InexactFloat64(),
			Currency:         m.Price.Currency,
			SourceName:       m.Price.SourceName,
			SourceCode:       m.Price.SourceCode,
			Description:      m.Price.ComponentDescription,
			MatchType:        string(m.Type),
			Score:            m.Score,
			Reason:           m.Reason(),
			Partial:          m.Partial,
			Estimated:        m.Estimated,
			Notes:            m.Notes,
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

type ImportRow struct {
	RawText      string   `json:"raw_text"`
	Name         string   `json:"name"`
	SKU          string   `json:"sku"`
	Manufacturer string   `json:"manufacturer"`
	Price        *float64 `json:"price"`
}

type ImportResult struct {
	Product     *Product `json:"product,omitempty"`
	Code        string   `json:"code,omitempty"`
	Extraction  string   `json:"extraction"`
	NeedsReview bool     `json:"needs_review,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// HandleImport classifies and stores a batch of parsed import rows. Rows
// are independent: one bad row is reported and the rest still import.
func (h *CatalogHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var rows []ImportRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results := make([]ImportResult, len(rows))
	for i, in := range rows {
		row := ingest.Row{RawText: in.RawText, Name: in.Name, SKU: in.SKU, Manufacturer: in.Manufacturer}
		if in.Price != nil {
			row.Price = decimal.NewNullDecimal(decimal.NewFromFloat(*in.Price))
		}

		res, err := h.importer.Import(r.Context(), row)
		if err != nil {
			if api.StatusFor(err) == http.StatusInternalServerError {
				h.logger.Error("Failed to import row", zap.Int("row", i), zap.Error(err))
				api.WriteError(w, http.StatusInternalServerError, "failed to import products")
				return
			}
			results[i] = ImportResult{Error: err.Error(), Extraction: "skipped"}
			continue
		}
		p := toProduct(res.Product)
		results[i] = ImportResult{
			Product:     &p,
			Code:        res.Code,
			Extraction:  res.Extraction.Status.String(),
			NeedsReview: res.NeedsReview,
		}
	}
	api.WriteJSON(w, http.StatusOK, results)
}

func toProduct(p models.Product) Product {
	out := Product{
		ID:           p.ID,
		Name:         p.Name,
		Manufacturer: p.ManufacturerName,
		Source:       string(p.ClassificationSource),
		Confidence:   string(p.ClassificationConfidence),
	}
	if p.SKU != nil {
		out.SKU = *p.SKU
	}
	if p.Price.Valid {
		v := p.Price.Decimal.InexactFloat64()
		out.Price = &v
	}
	if p.Category != nil {
		out.Category = &Category{Code: p.Category.Code, Name: p.Category.Name, Path: p.Category.Path}
	}
	return out
}
