package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/ingest"
	"github.com/medtariff/refprice/metrics"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/pipelines"
	"github.com/medtariff/refprice/pricing"
	"github.com/medtariff/refprice/refdata"
)

// services is everything a command needs once the database is reachable
// and the hierarchy is loaded.
type services struct {
	db          *gorm.DB
	categories  *models.CategoriesRepository
	products    *models.ProductsRepository
	prices      *models.ReferencePricesRepository
	matches     *models.PriceMatchesRepository
	corrections *models.CorrectionsRepository
	tree        *hierarchy.Tree
	engine      *refdata.Engine
	resolver    *pricing.Resolver
	runner      *pipelines.Runner
	importer    *ingest.Importer
}

func (a *app) openDB() (*gorm.DB, error) {
	if a.cfg.MigrateOnStart {
		if err := models.Migrate(a.cfg.DatabaseURL(), a.log); err != nil {
			return nil, err
		}
	}
	db, err := models.Open(a.cfg.DSN(), a.cfg.DBOptions())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (a *app) tables() (*refdata.Tables, error) {
	if a.cfg.RefDataPath != "" {
		return refdata.Load(a.cfg.RefDataPath)
	}
	return refdata.Default()
}

// bootstrap opens the database, loads the hierarchy and compiles the
// reference tables against it. reg may be nil.
func (a *app) bootstrap(ctx context.Context, reg prometheus.Registerer) (*services, error) {
	minConfidence, err := models.ParseConfidence(a.cfg.MinApplyConfidence)
	if err != nil {
		return nil, err
	}
	tables, err := a.tables()
	if err != nil {
		return nil, err
	}

	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	s := &services{
		db:          db,
		categories:  models.NewCategoriesRepository(db),
		products:    models.NewProductsRepository(db),
		prices:      models.NewReferencePricesRepository(db),
		matches:     models.NewPriceMatchesRepository(db),
		corrections: models.NewCorrectionsRepository(db),
	}

	s.tree, err = hierarchy.Load(ctx, s.categories)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}
	if s.tree.Len() == 0 {
		a.log.Warn("Category hierarchy is empty, run import-scheme first")
	}
	s.engine, err = tables.Compile(s.tree)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("compile reference tables: %w", err)
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}
	s.resolver = pricing.NewResolver(s.prices, s.products, s.tree, pricing.DefaultConfig(), a.log)
	s.runner = pipelines.NewRunner(pipelines.Deps{
		Prices:             s.prices,
		Products:           s.products,
		Matches:            s.matches,
		Audit:              s.corrections,
		Tree:               s.tree,
		Classifier:         s.engine.Classifier,
		Mapper:             s.engine.Mapper,
		Estimator:          s.engine.Estimator,
		Resolver:           s.resolver,
		Metrics:            m,
		Logger:             a.log,
		MinApplyConfidence: minConfidence,
	})
	// No extraction service client is configured yet, so imports fall back
	// to the rule classifier.
	s.importer = ingest.NewImporter(s.products, nil, s.engine.Classifier, s.tree, minConfidence, a.cfg.ExtractionTimeout, a.log)
	return s, nil
}

func (s *services) close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
