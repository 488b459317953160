package main

import (
	"net/http"

	"github.com/medtariff/refprice/app/catalog"
	"github.com/medtariff/refprice/app/categories"
	"github.com/medtariff/refprice/app/classification"
)

type handlers struct {
	catalog        *catalog.CatalogHandler
	categories     *categories.CategoryHandler
	classification *classification.ClassificationHandler
	metrics        http.Handler
}

func newMux(h handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /catalog", h.catalog.HandleGet)
	mux.HandleFunc("GET /catalog/{id}/prices", h.catalog.HandleGetPrices)
	mux.HandleFunc("POST /catalog/import", h.catalog.HandleImport)

	mux.HandleFunc("GET /categories", h.categories.HandleGetAll)
	mux.HandleFunc("PATCH /categories/{code}", h.categories.HandleRename)
	mux.HandleFunc("GET /categories/{code}/estimate", h.categories.HandleEstimate)

	mux.HandleFunc("POST /classify", h.classification.HandleClassify)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}
