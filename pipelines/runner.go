// Package pipelines runs the idempotent batch corrections that keep derived
// classification fields consistent with the reference tables.
package pipelines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/classify"
	"github.com/medtariff/refprice/codemap"
	"github.com/medtariff/refprice/fraction"
	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/metrics"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/pricing"
)

// Name identifies a pipeline.
type Name string

const (
	ClassifyProducts Name = "classify-products"
	DeriveSubcodes   Name = "derive-subcodes"
	MapLeaves        Name = "map-leaves"
	CorrectKits      Name = "correct-kits"
	FlagSplitPrices  Name = "flag-split-prices"
	DecomposeSets    Name = "decompose-sets"
	RebuildMatches   Name = "rebuild-matches"
)

// Order is the dependency order RunAll uses: subcodes before leaves, the
// kit corrections after leaf mapping, and the match cache last.
var Order = []Name{
	DeriveSubcodes,
	MapLeaves,
	CorrectKits,
	FlagSplitPrices,
	DecomposeSets,
	ClassifyProducts,
	RebuildMatches,
}

func ParseName(s string) (Name, error) {
	for _, n := range Order {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline %q: %w", s, models.ErrInvalidArgument)
}

const DefaultBatchSize = 500

type Options struct {
	DryRun    bool
	BatchSize int
	// Force recomputes rows whose derived fields are already set.
	Force bool
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// ReferencePriceStore is the slice of the reference price repository the
// pipelines need.
type ReferencePriceStore interface {
	ListReferencePriceIDs(ctx context.Context, f models.ReferencePriceFilter) ([]uint, error)
	ListReferencePrices(ctx context.Context, f models.ReferencePriceFilter) ([]models.ReferencePrice, error)
	UpdateReferencePrice(ctx context.Context, id uint, patch models.ReferencePricePatch) error
	UpsertDerivedPrice(ctx context.Context, price *models.ReferencePrice) (bool, error)
}

type ProductStore interface {
	ListProductIDs(ctx context.Context, onlyClassified bool) ([]uint, error)
	GetProducts(ctx context.Context, ids []uint) ([]models.Product, error)
	UpdateClassification(ctx context.Context, id uint, c models.ProductClassification) error
	ListPricedByCategories(ctx context.Context, categoryIDs []uint) ([]models.Product, error)
}

type MatchStore interface {
	ListMatches(ctx context.Context, productID uint) ([]models.ProductPriceMatch, error)
	ReplaceMatches(ctx context.Context, productID uint, matches []models.ProductPriceMatch) error
}

type AuditLog interface {
	AppendCorrections(ctx context.Context, entries []models.CorrectionEntry) error
}

// Deps wires a Runner. Audit and Metrics may be nil.
type Deps struct {
	Prices     ReferencePriceStore
	Products   ProductStore
	Matches    MatchStore
	Audit      AuditLog
	Tree       *hierarchy.Tree
	Classifier *classify.Classifier
	Mapper     *codemap.Mapper
	Estimator  *fraction.Estimator
	Resolver   *pricing.Resolver
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	// MinApplyConfidence gates automatic product classification. Defaults
	// to medium.
	MinApplyConfidence models.Confidence
}

type Runner struct {
	Deps
}

func NewRunner(d Deps) *Runner {
	if d.MinApplyConfidence == "" {
		d.MinApplyConfidence = models.ConfidenceMedium
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Runner{Deps: d}
}

// Run executes one pipeline.
func (r *Runner) Run(ctx context.Context, name Name, opts Options) (*Report, error) {
	switch name {
	case ClassifyProducts:
		return r.ClassifyProducts(ctx, opts)
	case DeriveSubcodes:
		return r.DeriveSubcodes(ctx, opts)
	case MapLeaves:
		return r.MapLeaves(ctx, opts)
	case CorrectKits:
		return r.CorrectKits(ctx, opts)
	case FlagSplitPrices:
		return r.FlagSplitPrices(ctx, opts)
	case DecomposeSets:
		return r.DecomposeSets(ctx, opts)
	case RebuildMatches:
		return r.RebuildMatches(ctx, opts)
	}
	return nil, fmt.Errorf("unknown pipeline %q: %w", string(name), models.ErrInvalidArgument)
}

// RunAll executes every pipeline in Order and stops at the first error or
// cancelled run.
func (r *Runner) RunAll(ctx context.Context, opts Options) ([]*Report, error) {
	var reports []*Report
	for _, name := range Order {
		rep, err := r.Run(ctx, name, opts)
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			return reports, err
		}
		if rep.Cancelled {
			break
		}
	}
	return reports, nil
}

// run is the shared batch loop. ids is the snapshot taken before any write.
type run struct {
	runner  *Runner
	name    Name
	opts    Options
	report  *Report
	log     *zap.Logger
	pending []models.CorrectionEntry
}

func (r *Runner) start(name Name, opts Options) *run {
	runID := uuid.NewString()
	r.Metrics.RunStarted(string(name), opts.DryRun)
	return &run{
		runner: r,
		name:   name,
		opts:   opts,
		report: newReport(runID, name, opts.DryRun),
		log: r.Logger.With(
			zap.String("pipeline", string(name)),
			zap.String("run_id", runID),
			zap.Bool("dry_run", opts.DryRun),
		),
	}
}

// each walks ids in batches, calling fn once per batch. Cancellation is
// honoured between batches only, so a batch is never left half written.
func (x *run) each(ctx context.Context, ids []uint, fn func(ctx context.Context, batch []uint) error) (*Report, error) {
	size := x.opts.batchSize()
	x.log.Info("Pipeline started", zap.Int("rows", len(ids)), zap.Int("batch_size", size))

	for start, batchNo := 0, 1; start < len(ids); start, batchNo = start+size, batchNo+1 {
		if err := ctx.Err(); err != nil {
			x.report.Cancelled = true
			x.log.Warn("Pipeline cancelled", zap.Int("batch", batchNo), zap.Error(err))
			break
		}
		end := min(start+size, len(ids))

		err := fn(ctx, ids[start:end])
		if ferr := x.flush(ctx); err == nil {
			err = ferr
		}
		if err != nil {
			x.finish()
			x.log.Error("Pipeline failed", zap.Int("batch", batchNo), zap.Error(err))
			return x.report, fmt.Errorf("pipeline %s batch %d: %w", x.name, batchNo, err)
		}
		x.log.Debug("Processed batch", zap.Int("batch", batchNo), zap.Int("rows", end-start),
			zap.Int("changed", x.report.Changed))
	}

	x.finish()
	x.log.Info("Pipeline finished",
		zap.Int("scanned", x.report.Scanned),
		zap.Int("changed", x.report.Changed),
		zap.Int("skipped", x.report.Skipped),
		zap.Int("validation_failures", len(x.report.ValidationFailures)),
		zap.Any("buckets", x.report.Buckets),
	)
	return x.report, nil
}

func (x *run) finish() {
	x.report.Duration = time.Since(x.report.StartedAt)
}

func (x *run) count(bucket string) {
	x.report.Scanned++
	x.report.count(bucket)
	x.runner.Metrics.RowProcessed(string(x.name), bucket)
}

func (x *run) skip(bucket string) {
	x.report.Skipped++
	x.count(bucket)
}

// record notes a write for the report, the metrics and the audit log. The
// audit entries are flushed at the end of each batch.
func (x *run) record(table string, id uint, fields []string, note string, changes ...Change) {
	x.report.changed(id, changes...)
	if x.opts.DryRun {
		return
	}
	x.runner.Metrics.RowWritten(string(x.name))
	x.pending = append(x.pending, models.CorrectionEntry{
		RunID:    x.report.RunID,
		Pipeline: string(x.name),
		Table:    table,
		RowID:    id,
		Fields:   fields,
		Note:     note,
	})
}

func (x *run) flush(ctx context.Context) error {
	if len(x.pending) == 0 || x.runner.Audit == nil {
		x.pending = x.pending[:0]
		return nil
	}
	err := x.runner.Audit.AppendCorrections(ctx, x.pending)
	x.pending = x.pending[:0]
	return err
}

// patchPrice writes patch to p unless this is a dry run and records it.
func (x *run) patchPrice(ctx context.Context, p *models.ReferencePrice, patch models.ReferencePricePatch) error {
	after := *p
	patch.Apply(&after)
	changes := diffPrice(p, &after)

	if !x.opts.DryRun {
		if err := x.runner.Prices.UpdateReferencePrice(ctx, p.ID, patch); err != nil {
			return err
		}
	}
	x.record("reference_prices", p.ID, patch.Fields(), patch.AppendNote, changes...)
	return nil
}

func diffPrice(before, after *models.ReferencePrice) []Change {
	var changes []Change
	add := func(field, b, a string) {
		if b != a {
			changes = append(changes, Change{RowID: before.ID, Field: field, Before: b, After: a})
		}
	}
	add("xc_subcode", strOrNull(before.XCSubcode), strOrNull(after.XCSubcode))
	add("component_type", typeOrNull(before.ComponentType), typeOrNull(after.ComponentType))
	add("leaf_category_id", idOrNull(before.LeafCategoryID), idOrNull(after.LeafCategoryID))
	if after.Notes != before.Notes {
		changes = append(changes, Change{RowID: before.ID, Field: "notes", After: strings.TrimPrefix(after.Notes[len(before.Notes):], models.NoteSeparator)})
	}
	return changes
}

func strOrNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}

func typeOrNull(t *models.ComponentType) string {
	if t == nil {
		return "null"
	}
	return string(*t)
}

func idOrNull(id *uint) string {
	if id == nil {
		return "null"
	}
	return fmt.Sprint(*id)
}
