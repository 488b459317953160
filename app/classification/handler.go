package classification

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/medtariff/refprice/app/api"
	"github.com/medtariff/refprice/classify"
)

type Request struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
}

type Response struct {
	Matched    bool   `json:"matched"`
	Code       string `json:"code,omitempty"`
	Name       string `json:"name,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	Keyword    string `json:"keyword,omitempty"`
}

type Classifier interface {
	Classify(in classify.Input) *classify.Result
}

type ClassificationHandler struct {
	classifier Classifier
	logger     *zap.Logger
}

func NewClassificationHandler(c Classifier, logger *zap.Logger) *ClassificationHandler {
	return &ClassificationHandler{classifier: c, logger: logger}
}

// HandleClassify runs the keyword rules over a free-text description. No
// match is a normal answer, not an error.
func (h *ClassificationHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.WriteError(w, http.StatusBadRequest, "missing name")
		return
	}

	res := h.classifier.Classify(classify.Input{Name: req.Name, Manufacturer: req.Manufacturer})
	if res == nil {
		h.logger.Debug("No classification rule matched", zap.String("name", req.Name))
		api.WriteJSON(w, http.StatusOK, Response{})
		return
	}
	api.WriteJSON(w, http.StatusOK, Response{
		Matched:    true,
		Code:       res.Code,
		Name:       res.Name,
		Confidence: string(res.Confidence),
		Priority:   res.Priority,
		Keyword:    res.Keyword,
	})
}
