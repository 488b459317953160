package categories

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/app/api"
	"github.com/medtariff/refprice/fraction"
	"github.com/medtariff/refprice/models"
)

type CategoryResponse struct {
	ID         uint   `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Depth      int    `json:"depth"`
	ParentCode string `json:"parent_code,omitempty"`
}

type CategoryProvider interface {
	GetAllCategories(ctx context.Context) ([]models.Category, error)
	Rename(ctx context.Context, id uint, name string) error
}

// Hierarchy is the in-memory tree kept in step with the store.
type Hierarchy interface {
	ByCode(code string) (models.Category, error)
	Rename(id uint, name string) error
}

type FractionEstimator interface {
	Estimate(code string, setPrice decimal.Decimal) *fraction.Estimate
	Set(code string) (fraction.SetComposition, bool)
	Decompose(set fraction.SetComposition, setPrice decimal.Decimal, observed map[string][]decimal.Decimal) (*fraction.Decomposition, error)
}

type CategoryHandler struct {
	repo      CategoryProvider
	tree      Hierarchy
	estimator FractionEstimator
	logger    *zap.Logger
}

func NewCategoryHandler(r CategoryProvider, tree Hierarchy, estimator FractionEstimator, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{repo: r, tree: tree, estimator: estimator, logger: logger}
}

func (h *CategoryHandler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.GetAllCategories(r.Context())
	if err != nil {
		h.logger.Error("Failed to list categories", zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "failed to fetch categories")
		return
	}

	codes := make(map[uint]string, len(categories))
	for _, c := range categories {
		codes[c.ID] = c.Code
	}

	response := make([]CategoryResponse, len(categories))
	for i, c := range categories {
		response[i] = CategoryResponse{
			ID:    c.ID,
			Code:  c.Code,
			Name:  c.Name,
			Path:  c.Path,
			Depth: c.Depth,
		}
		if c.ParentID != nil {
			response[i].ParentCode = codes[*c.ParentID]
		}
	}

	api.WriteJSON(w, http.StatusOK, response)
}

// HandleRename changes a category's display name. Codes, parents and paths
// cannot be edited once imported.
func (h *CategoryHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for field := range input {
		if field != "name" {
			api.WriteError(w, http.StatusBadRequest, "only name can be changed")
			return
		}
	}
	name, _ := input["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		api.WriteError(w, http.StatusBadRequest, "missing name")
		return
	}

	node, err := h.tree.ByCode(r.PathValue("code"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, "category not found")
		return
	}
	if err := h.repo.Rename(r.Context(), node.ID, name); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "category not found")
			return
		}
		h.logger.Error("Failed to rename category", zap.String("code", node.Code), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "failed to rename category")
		return
	}
	if err := h.tree.Rename(node.ID, name); err != nil {
		h.logger.Warn("Renamed category missing from hierarchy", zap.String("code", node.Code), zap.Error(err))
	}

	node.Name = name
	api.WriteJSON(w, http.StatusOK, CategoryResponse{
		ID:    node.ID,
		Code:  node.Code,
		Name:  node.Name,
		Path:  node.Path,
		Depth: node.Depth,
	})
}

type EstimateResponse struct {
	Code          string  `json:"code"`
	Label         string  `json:"label"`
	MatchedPrefix string  `json:"matched_prefix"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Midpoint      float64 `json:"midpoint"`
	FractionMin   float64 `json:"fraction_min"`
	FractionMax   float64 `json:"fraction_max"`
}

type DecompositionResponse struct {
	Set             string             `json:"set"`
	SetPrice        float64            `json:"set_price"`
	Components      []EstimateResponse `json:"components"`
	FractionSum     float64            `json:"fraction_sum"`
	Flags           []string           `json:"flags"`
	ValidationError string             `json:"validation_error,omitempty"`
}

// HandleEstimate returns the estimated price range of a component given a
// set price. For a set code it returns the full decomposition instead.
func (h *CategoryHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	setPrice, err := decimal.NewFromString(r.URL.Query().Get("set_price"))
	if err != nil || !setPrice.IsPositive() {
		api.WriteError(w, http.StatusBadRequest, "set_price must be a positive amount")
		return
	}

	if set, ok := h.estimator.Set(code); ok {
		d, err := h.estimator.Decompose(set, setPrice, nil)
		if err != nil && !errors.Is(err, models.ErrValidationFailure) {
			api.WriteError(w, api.StatusFor(err), "failed to decompose set")
			return
		}
		resp := DecompositionResponse{
			Set:         set.SetCode,
			SetPrice:    setPrice.InexactFloat64(),
			Components:  make([]EstimateResponse, len(d.Components)),
			FractionSum: d.FractionSum,
			Flags:       d.Flags,
		}
		if resp.Flags == nil {
			resp.Flags = []string{}
		}
		for i, c := range d.Components {
			resp.Components[i] = toEstimate(c.Code, c.Estimate)
		}
		if err != nil {
			resp.ValidationError = err.Error()
		}
		api.WriteJSON(w, http.StatusOK, resp)
		return
	}

	est := h.estimator.Estimate(code, setPrice)
	if est == nil {
		api.WriteError(w, http.StatusNotFound, "no fraction data for category")
		return
	}
	api.WriteJSON(w, http.StatusOK, toEstimate(code, *est))
}

func toEstimate(code string, e fraction.Estimate) EstimateResponse {
	return EstimateResponse{
		Code:          code,
		Label:         e.Label,
		MatchedPrefix: e.MatchedPrefix,
		Min:           e.Min.InexactFloat64(),
		Max:           e.Max.InexactFloat64(),
		Midpoint:      e.Midpoint().InexactFloat64(),
		FractionMin:   e.FractionMin,
		FractionMax:   e.FractionMax,
	}
}
