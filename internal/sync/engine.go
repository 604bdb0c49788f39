package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope        = "medsync/sync"
	spanLoadPatient  = "sync.load_patient"
	spanRoster       = "sync.roster"
	spanDictionaries = "sync.dictionaries"
	metricLoads      = "medsync.sync.patient.loads"
	metricLoadErrors = "medsync.sync.patient.errors"
	metricRosterRows = "medsync.sync.roster.rows"
	metricDictRun    = "medsync.sync.dictionary.jobs.run"
	metricDictFailed = "medsync.sync.dictionary.jobs.failed"
	metricDictSkip   = "medsync.sync.dictionary.jobs.skipped"
)

// Engine is the top-level entry point for all sync operations. It wraps
// the loader, roster, and dictionary components with trace spans and
// metrics, and owns the periodic dictionary refresh loop in daemon mode.
type Engine struct {
	loader       *Loader
	roster       *RosterSync
	dictionaries *DictionarySync
	dictInterval time.Duration
	log          *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntLoads      metric.Int64Counter
	cntLoadErrors metric.Int64Counter
	cntRosterRows metric.Int64Counter
	cntDictRun    metric.Int64Counter
	cntDictFailed metric.Int64Counter
	cntDictSkip   metric.Int64Counter
}

// NewEngine creates an Engine. dictInterval is how often the daemon loop
// re-evaluates dictionary TTLs; individual tables still refresh only when
// their own checkpoint has expired.
func NewEngine(loader *Loader, roster *RosterSync, dictionaries *DictionarySync, dictInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		loader:       loader,
		roster:       roster,
		dictionaries: dictionaries,
		dictInterval: dictInterval,
		log:          logger,

		tracer:        tracer,
		cntLoads:      mustCounter(metricLoads, "Number of patient documents loaded and reconciled"),
		cntLoadErrors: mustCounter(metricLoadErrors, "Number of failed patient loads"),
		cntRosterRows: mustCounter(metricRosterRows, "Number of roster rows upserted"),
		cntDictRun:    mustCounter(metricDictRun, "Number of dictionary jobs executed"),
		cntDictFailed: mustCounter(metricDictFailed, "Number of dictionary jobs that failed"),
		cntDictSkip:   mustCounter(metricDictSkip, "Number of dictionary jobs skipped within TTL"),
	}
}

// LoadPatient loads one patient, recording a trace span and counters.
func (e *Engine) LoadPatient(ctx context.Context, health24ID int64) error {
	ctx, span := e.tracer.Start(ctx, spanLoadPatient,
		trace.WithAttributes(attribute.Int64("patient.health24_id", health24ID)))
	defer span.End()

	err := e.loader.Load(ctx, health24ID)
	if err != nil {
		e.cntLoadErrors.Add(ctx, 1)
		span.RecordError(err)
		return err
	}
	e.cntLoads.Add(ctx, 1)
	return nil
}

// SyncRoster refreshes a clinician's patient roster and returns the
// number of rows upserted.
func (e *Engine) SyncRoster(ctx context.Context, employeeID string) (int, error) {
	ctx, span := e.tracer.Start(ctx, spanRoster,
		trace.WithAttributes(attribute.String("roster.employee_id", employeeID)))
	defer span.End()

	count, err := e.roster.SyncList(ctx, employeeID)
	if count > 0 {
		e.cntRosterRows.Add(ctx, int64(count))
	}
	span.SetAttributes(attribute.Int("roster.upserted", count))
	if err != nil {
		span.RecordError(err)
	}
	return count, err
}

// SyncDictionaries runs one dictionary scheduler pass, recording a trace
// span and metrics.
func (e *Engine) SyncDictionaries(ctx context.Context) (DictStats, error) {
	ctx, span := e.tracer.Start(ctx, spanDictionaries)
	defer span.End()

	stats, err := e.dictionaries.Run(ctx)

	if stats.Run > 0 {
		e.cntDictRun.Add(ctx, int64(stats.Run))
	}
	if stats.Failed > 0 {
		e.cntDictFailed.Add(ctx, int64(stats.Failed))
	}
	if stats.Skipped > 0 {
		e.cntDictSkip.Add(ctx, int64(stats.Skipped))
	}

	span.SetAttributes(
		attribute.Int("dictionary.run", stats.Run),
		attribute.Int("dictionary.failed", stats.Failed),
		attribute.Int("dictionary.skipped", stats.Skipped),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// Run starts the periodic dictionary refresh loop. It blocks until ctx is
// cancelled. Failed passes are logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.dictInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if _, err := e.SyncDictionaries(ctx); err != nil {
		e.log.Error("initial dictionary pass failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.SyncDictionaries(ctx); err != nil {
				e.log.Error("dictionary pass failed", "error", err)
			}
		}
	}
}
