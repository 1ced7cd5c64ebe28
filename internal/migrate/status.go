package migrate

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/karacommerce/catalog-migrator/internal/metrics"
	"github.com/karacommerce/catalog-migrator/internal/staging"
)

// StatusTracker collects per-entity ledger snapshots during a run and renders
// the final summary. It is constructed explicitly and passed into the
// migrator; the status API reads it concurrently, so access is locked.
type StatusTracker struct {
	runID   string
	start   time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	progress map[string]staging.Progress
}

// NewStatusTracker creates a tracker with a fresh run identifier.
func NewStatusTracker(log zerolog.Logger, m *metrics.Metrics) *StatusTracker {
	return &StatusTracker{
		runID:    uuid.New().String(),
		start:    time.Now(),
		log:      log.With().Str("component", "status").Logger(),
		metrics:  m,
		progress: make(map[string]staging.Progress),
	}
}

// RunID returns the identifier of this migration run.
func (t *StatusTracker) RunID() string {
	return t.runID
}

// Update records a ledger snapshot for an entity type, logs a progress line,
// and pushes the counters to the metrics registry.
func (t *StatusTracker) Update(p staging.Progress) {
	t.mu.Lock()
	t.progress[p.EntityType] = p
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.Set(p.EntityType, p.TotalCount, p.ProcessedCount, p.SuccessCount, p.ErrorCount)
	}

	pct := 0.0
	if p.TotalCount > 0 {
		pct = float64(p.ProcessedCount) / float64(p.TotalCount) * 100
	}
	t.log.Info().
		Str("entity", p.EntityType).
		Str("status", p.Status).
		Int("processed", p.ProcessedCount).
		Int("total", p.TotalCount).
		Int("errors", p.ErrorCount).
		Str("progress", fmt.Sprintf("%.1f%%", pct)).
		Msg("Migration progress")
}

// Snapshot returns the tracked ledger rows in stage order.
func (t *StatusTracker) Snapshot() []staging.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]staging.Progress, 0, len(t.progress))
	for _, entity := range []string{staging.EntityCategories, staging.EntityProducts, staging.EntityMedia} {
		if p, ok := t.progress[entity]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Elapsed returns the time since the tracker was created.
func (t *StatusTracker) Elapsed() time.Duration {
	return time.Since(t.start).Round(time.Second)
}

// PrintSummary writes the per-entity summary table for the run.
func (t *StatusTracker) PrintSummary(out io.Writer) {
	fmt.Fprintf(out, "\nMigration summary (run %s, elapsed %s)\n\n", t.runID, t.Elapsed())

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tSTATUS\tPROCESSED\tSUCCESS\tERRORS")
	fmt.Fprintln(w, "------\t------\t---------\t-------\t------")
	for _, p := range t.Snapshot() {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\n",
			p.EntityType, p.Status, p.ProcessedCount, p.TotalCount, p.SuccessCount, p.ErrorCount)
	}
	w.Flush()
	fmt.Fprintln(out)
}
