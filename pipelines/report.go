package pipelines

import (
	"sort"
	"time"
)

// Change is one field a pipeline wrote, or would write in a dry run.
type Change struct {
	RowID  uint   `json:"row_id"`
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// ValidationFailure is a row skipped because it failed a checklist.
type ValidationFailure struct {
	RowID  uint   `json:"row_id"`
	Reason string `json:"reason"`
}

// Flag is a non-blocking finding worth a human look.
type Flag struct {
	RowID   uint   `json:"row_id"`
	Message string `json:"message"`
}

// Report is the structured outcome of one pipeline run. A dry run produces
// the same report as a committing run over the same data.
type Report struct {
	RunID              string              `json:"run_id"`
	Pipeline           Name                `json:"pipeline"`
	DryRun             bool                `json:"dry_run"`
	Scanned            int                 `json:"scanned"`
	Changed            int                 `json:"changed"`
	Skipped            int                 `json:"skipped"`
	Buckets            map[string]int      `json:"buckets"`
	ChangedIDs         []uint              `json:"changed_ids"`
	Changes            []Change            `json:"changes"`
	ValidationFailures []ValidationFailure `json:"validation_failures"`
	Flags              []Flag              `json:"flags"`
	Cancelled          bool                `json:"cancelled"`
	StartedAt          time.Time           `json:"started_at"`
	Duration           time.Duration       `json:"duration"`
}

func newReport(runID string, name Name, dryRun bool) *Report {
	return &Report{
		RunID:              runID,
		Pipeline:           name,
		DryRun:             dryRun,
		Buckets:            make(map[string]int),
		ChangedIDs:         []uint{},
		Changes:            []Change{},
		ValidationFailures: []ValidationFailure{},
		Flags:              []Flag{},
		StartedAt:          time.Now(),
	}
}

func (r *Report) count(bucket string) {
	r.Buckets[bucket]++
}

func (r *Report) changed(id uint, changes ...Change) {
	r.Changed++
	r.ChangedIDs = append(r.ChangedIDs, id)
	r.Changes = append(r.Changes, changes...)
}

// BucketNames returns the bucket names in sorted order.
func (r *Report) BucketNames() []string {
	names := make([]string, 0, len(r.Buckets))
	for n := range r.Buckets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
