// Package modelstest provides an in-memory store with the same semantics as
// the gorm repositories, for tests that exercise pipelines and handlers
// without a database.
package modelstest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medtariff/refprice/models"
)

// Store implements every repository method used outside the models package.
// Err, when set, is returned by every method instead of touching state.
type Store struct {
	mu          sync.Mutex
	categories  map[uint]models.Category
	products    map[uint]models.Product
	prices      map[uint]models.ReferencePrice
	matches     map[uint][]models.ProductPriceMatch
	corrections []models.CorrectionEntry
	nextID      uint

	Err error
	// Writes counts every mutating call that changed state.
	Writes int
}

func NewStore() *Store {
	return &Store{
		categories: make(map[uint]models.Category),
		products:   make(map[uint]models.Product),
		prices:     make(map[uint]models.ReferencePrice),
		matches:    make(map[uint][]models.ProductPriceMatch),
		nextID:     1000,
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// SeedCategories stores nodes as given, keeping their ids.
func (s *Store) SeedCategories(nodes []models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.categories[n.ID] = n
	}
}

// AddProduct stores p, assigning an id when it has none, and returns the id.
func (s *Store) AddProduct(p models.Product) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products[p.ID] = p
	return p.ID
}

// AddPrice stores p, assigning an id when it has none, and returns the id.
func (s *Store) AddPrice(p models.ReferencePrice) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	if p.Currency == "" {
		p.Currency = "EUR"
	}
	if p.PriceScope == "" {
		p.PriceScope = models.ScopeComponent
	}
	s.prices[p.ID] = p
	return p.ID
}

// Price returns a copy of a stored row.
func (s *Store) Price(id uint) models.ReferencePrice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prices[id]
}

func (s *Store) Product(id uint) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

// Corrections returns every audit entry in insertion order.
func (s *Store) Corrections() []models.CorrectionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.corrections)
}

// DerivedFrom returns the rows created by decomposing the row id.
func (s *Store) DerivedFrom(id uint) []models.ReferencePrice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReferencePrice
	for _, p := range s.sortedPrices() {
		if p.DerivedFromID != nil && *p.DerivedFromID == id {
			out = append(out, p)
		}
	}
	return out
}

// Categories

func (s *Store) GetAllCategories(ctx context.Context) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, c := range s.categories {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, models.ErrCategoryNotFound
}

func (s *Store) Upsert(ctx context.Context, category *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for id, c := range s.categories {
		if c.Code == category.Code {
			c.Name = category.Name
			s.categories[id] = c
			*category = c
			s.Writes++
			return nil
		}
		if c.Path == category.Path {
			return fmt.Errorf("category %s path %s: %w", category.Code, category.Path, models.ErrIntegrityViolation)
		}
	}
	category.ID = s.id()
	s.categories[category.ID] = *category
	s.Writes++
	return nil
}

func (s *Store) Rename(ctx context.Context, id uint, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.categories[id]
	if !ok {
		return models.ErrCategoryNotFound
	}
	c.Name = name
	s.categories[id] = c
	s.Writes++
	return nil
}

// Products

func (s *Store) withCategory(p models.Product) models.Product {
	if p.CategoryID != nil {
		if c, ok := s.categories[*p.CategoryID]; ok {
			p.Category = &c
		}
	}
	return p
}

func (s *Store) sortedProducts() []models.Product {
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetFilteredProducts(ctx context.Context, offset, limit int, filters models.ProductFilters) ([]models.Product, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var matched []models.Product
	for _, p := range s.sortedProducts() {
		p = s.withCategory(p)
		if filters.CategoryPath != "" {
			if p.Category == nil {
				continue
			}
			path := p.Category.Path
			if path != filters.CategoryPath && !strings.HasPrefix(path, filters.CategoryPath+models.PathSeparator) {
				continue
			}
		}
		if filters.PriceLessThan != nil {
			if !p.Price.Valid || p.Price.Decimal.InexactFloat64() >= *filters.PriceLessThan {
				continue
			}
		}
		matched = append(matched, p)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.Product{}, total, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], total, nil
}

func (s *Store) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	p = s.withCategory(p)
	return &p, nil
}

func (s *Store) GetBySKU(ctx context.Context, sku string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, p := range s.sortedProducts() {
		if p.SKU != nil && *p.SKU == sku {
			return &p, nil
		}
	}
	return nil, models.ErrProductNotFound
}

func (s *Store) ListProductIDs(ctx context.Context, onlyClassified bool) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []uint
	for _, p := range s.sortedProducts() {
		if onlyClassified && p.CategoryID == nil {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []uint) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Product
	for _, p := range s.sortedProducts() {
		if slices.Contains(ids, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListPricedByCategories(ctx context.Context, categoryIDs []uint) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Product
	for _, p := range s.sortedProducts() {
		if p.CategoryID != nil && p.Price.Valid && slices.Contains(categoryIDs, *p.CategoryID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) UpdateClassification(ctx context.Context, id uint, c models.ProductClassification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.products[id]
	if !ok {
		return models.ErrProductNotFound
	}
	if c.CategoryID != nil {
		v := *c.CategoryID
		p.CategoryID = &v
	} else {
		p.CategoryID = nil
	}
	p.ClassificationSource = c.Source
	p.ClassificationConfidence = c.Confidence
	p.UpdatedAt = time.Now()
	s.products[id] = p
	s.Writes++
	return nil
}

func (s *Store) UpsertProduct(ctx context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if product.SKU != nil && *product.SKU == "" {
		product.SKU = nil
	}
	if product.SKU != nil {
		for id, p := range s.products {
			if p.SKU != nil && *p.SKU == *product.SKU {
				product.ID = id
				product.CreatedAt = p.CreatedAt
				break
			}
		}
	}
	if product.ID == 0 {
		product.ID = s.id()
		product.CreatedAt = time.Now()
	}
	product.UpdatedAt = time.Now()
	stored := *product
	stored.Category = nil
	s.products[product.ID] = stored
	s.Writes++
	return nil
}

// Reference prices

func (s *Store) sortedPrices() []models.ReferencePrice {
	out := make([]models.ReferencePrice, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// matchPrice mirrors the SQL built by ReferencePricesRepository.filtered.
func matchPrice(p models.ReferencePrice, f models.ReferencePriceFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, p.ID) {
		return false
	}
	if f.ProductID != nil && (p.ProductID == nil || *p.ProductID != *f.ProductID) {
		return false
	}
	if f.SourceName != "" && p.SourceName != f.SourceName {
		return false
	}
	if len(f.SubcodeIn) > 0 && (p.XCSubcode == nil || !slices.Contains(f.SubcodeIn, *p.XCSubcode)) {
		return false
	}
	if f.PriceScope != "" && p.PriceScope != f.PriceScope {
		return false
	}
	if f.MissingDerived && p.XCSubcode != nil && p.ComponentType != nil {
		return false
	}
	if f.HasLeaf && p.LeafCategoryID == nil {
		return false
	}
	if f.DescriptionLike != "" &&
		!strings.Contains(strings.ToLower(p.ComponentDescription), strings.ToLower(f.DescriptionLike)) {
		return false
	}
	if f.ExcludeDerived && p.DerivedFromID != nil {
		return false
	}
	if f.NotesNotContain != "" && strings.Contains(p.Notes, f.NotesNotContain) {
		return false
	}
	if len(f.EffectiveCategory) > 0 {
		eff := p.EffectiveCategoryID()
		if eff == nil || !slices.Contains(f.EffectiveCategory, *eff) {
			return false
		}
	}
	return true
}

func (s *Store) ListReferencePrices(ctx context.Context, f models.ReferencePriceFilter) ([]models.ReferencePrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.ReferencePrice
	for _, p := range s.sortedPrices() {
		if matchPrice(p, f) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListReferencePriceIDs(ctx context.Context, f models.ReferencePriceFilter) ([]uint, error) {
	rows, err := s.ListReferencePrices(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(rows))
	for i, p := range rows {
		ids[i] = p.ID
	}
	return ids, nil
}

func (s *Store) GetReferencePrice(ctx context.Context, id uint) (*models.ReferencePrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.prices[id]
	if !ok {
		return nil, models.ErrReferencePriceNotFound
	}
	return &p, nil
}

func (s *Store) UpdateReferencePrice(ctx context.Context, id uint, patch models.ReferencePricePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if patch.IsEmpty() {
		return nil
	}
	p, ok := s.prices[id]
	if !ok {
		return models.ErrReferencePriceNotFound
	}
	patch.Apply(&p)
	s.prices[id] = p
	s.Writes++
	return nil
}

func (s *Store) UpdateReferencePrices(ctx context.Context, ids []uint, patch models.ReferencePricePatch) (int64, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return 0, nil
	}
	var n int64
	for _, id := range ids {
		err := s.UpdateReferencePrice(ctx, id, patch)
		if err == nil {
			n++
			continue
		}
		if !errors.Is(err, models.ErrReferencePriceNotFound) {
			return n, err
		}
	}
	return n, nil
}

func (s *Store) CreateReferencePrice(ctx context.Context, price *models.ReferencePrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	price.ID = s.id()
	price.CreatedAt = time.Now()
	s.prices[price.ID] = *price
	s.Writes++
	return nil
}

func (s *Store) UpsertDerivedPrice(ctx context.Context, price *models.ReferencePrice) (bool, error) {
	if price.DerivedFromID == nil || price.CategoryID == nil {
		return false, fmt.Errorf("derived price needs a source row and category: %w", models.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for _, p := range s.prices {
		if p.DerivedFromID != nil && p.CategoryID != nil &&
			*p.DerivedFromID == *price.DerivedFromID && *p.CategoryID == *price.CategoryID {
			return false, nil
		}
	}
	price.ID = s.id()
	price.CreatedAt = time.Now()
	s.prices[price.ID] = *price
	s.Writes++
	return true, nil
}

// Matches and corrections

func (s *Store) ListMatches(ctx context.Context, productID uint) ([]models.ProductPriceMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := slices.Clone(s.matches[productID])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MatchScore != out[j].MatchScore {
			return out[i].MatchScore > out[j].MatchScore
		}
		return out[i].ReferencePriceID < out[j].ReferencePriceID
	})
	return out, nil
}

func (s *Store) ReplaceMatches(ctx context.Context, productID uint, matches []models.ProductPriceMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	stored := make([]models.ProductPriceMatch, len(matches))
	for i, m := range matches {
		m.ID = s.id()
		m.ProductID = productID
		stored[i] = m
	}
	s.matches[productID] = stored
	s.Writes++
	return nil
}

func (s *Store) AppendCorrections(ctx context.Context, entries []models.CorrectionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, e := range entries {
		e.ID = s.id()
		e.CreatedAt = time.Now()
		s.corrections = append(s.corrections, e)
	}
	return nil
}

func (s *Store) ListCorrections(ctx context.Context, runID string) ([]models.CorrectionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.CorrectionEntry
	for _, e := range s.corrections {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}
