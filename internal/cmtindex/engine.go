package cmtindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/journal"
	"github.com/roach88/unitao/internal/metrics"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
	"github.com/roach88/unitao/internal/traverse"
)

// ConsumerName is the journal consumer the Engine acks as.
const ConsumerName = "cmtIndex"

// Graph is the record graph the Engine reads and patches. Types not stored
// locally are reached through the federation.
type Graph interface {
	IsLocal(typ string) bool
	Schema(ctx context.Context, typ, version string) (*schema.Schema, error)
	Record(ctx context.Context, typ, id string) (*ir.Record, error)
	List(ctx context.Context, typ string) ([]string, error)
	Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error)
	Subscriptions(ctx context.Context) ([]schema.Subscription, error)
}

// Engine is the CmtIndex journal consumer of one data service.
//
// Thread-safety: Run and Drain must not be called concurrently. They are
// meant for exactly one goroutine per store.
type Engine struct {
	journal *journal.Journal
	store   *store.Store
	graph   Graph
	backoff Backoff
	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error

	started     bool
	bySource    map[string][]schema.Subscription
	byTarget    map[string][]schema.Subscription
	fingerprint string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithBackoff sets the retry policy. Default: DefaultBackoff.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) {
		e.backoff = b
	}
}

// New creates an Engine over a service's journal, its store (for the
// index registry) and its graph view.
func New(j *journal.Journal, st *store.Store, g Graph, opts ...Option) *Engine {
	e := &Engine{
		journal:  j,
		store:    st,
		graph:    g,
		backoff:  DefaultBackoff,
		logger:   slog.Default(),
		sleep:    sleepCtx,
		bySource: map[string][]schema.Subscription{},
		byTarget: map[string][]schema.Subscription{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("consumer", ConsumerName)
	return e
}

// Init registers the consumer and derives subscriptions. Run and Drain
// call it on first use; calling it before the service accepts writes
// keeps every later entry pending for the Engine. A failed initial
// backfill is logged and redone by the next Refresh.
func (e *Engine) Init(ctx context.Context) error {
	if e.started {
		return nil
	}
	if err := e.journal.RegisterConsumer(ctx, ConsumerName); err != nil {
		return err
	}
	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("initial subscription refresh failed", "error", err)
	}
	e.started = true
	return nil
}

// Run consumes the journal until ctx is cancelled or the journal closes.
//
// Processing errors are logged; blocked entries are retried on the next
// wake-up.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Init(ctx); err != nil {
		return fmt.Errorf("cmtindex init: %w", err)
	}
	e.logger.Info("cmtindex starting")

	wait := e.journal.Wait(ConsumerName)
	for {
		if _, err := e.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("cmtindex pass incomplete", "error", err)
		}

		select {
		case <-ctx.Done():
			e.logger.Info("cmtindex stopping: context cancelled")
			return ctx.Err()
		case _, ok := <-wait:
			if !ok {
				e.logger.Info("cmtindex stopping: journal closed")
				return nil
			}
		}
	}
}

// Drain processes pending entries until none remain or a pass makes no
// progress. It returns the number of entries acked. A non-nil error means
// some entries stay pending.
//
// Each pass first re-derives subscriptions, so indexTemplates registered
// in other stores apply from the next local entry on.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	if err := e.Init(ctx); err != nil {
		return 0, err
	}
	if err := e.refreshIfChanged(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		e.logger.Warn("subscription refresh failed", "error", err)
	}

	processed := 0
	blocked := map[ir.Key]error{}
	for {
		entries, err := e.journal.Pending(ctx, ConsumerName, 0)
		if err != nil {
			return processed, err
		}

		progress := false
		for _, entry := range entries {
			key := entry.Key()
			if _, ok := blocked[key]; ok {
				continue
			}
			if err := e.apply(ctx, entry); err != nil {
				if ctx.Err() != nil {
					return processed, ctx.Err()
				}
				e.logger.Warn("entry left pending", "entry", entry.Ref(), "error", err)
				blocked[key] = err
				continue
			}
			if err := e.journal.Ack(ctx, ConsumerName, entry.DataType, entry.DataID, entry.Page, entry.Seq); err != nil {
				return processed, err
			}
			processed++
			progress = true
		}

		if !progress {
			break
		}
	}

	if len(blocked) > 0 {
		var last error
		for _, err := range blocked {
			last = err
		}
		return processed, fmt.Errorf("%d keys blocked: %w", len(blocked), last)
	}
	return processed, nil
}

// apply processes one entry with retries. Permanent failures are logged
// and reported as success so the entry is acked.
func (e *Engine) apply(ctx context.Context, entry *ir.JournalEntry) error {
	for attempt := 1; ; attempt++ {
		err := e.process(ctx, entry)
		switch {
		case err == nil:
			e.metrics.IndexOutcome("applied")
			return nil
		case !ir.IsTransient(err):
			e.logger.Warn("entry skipped", "entry", entry.Ref(), "error", err)
			e.metrics.IndexOutcome("skipped")
			return nil
		case attempt >= e.backoff.Attempts:
			e.metrics.IndexOutcome("failed")
			return err
		}

		e.metrics.IndexRetried()
		d := e.backoff.delay(attempt)
		e.logger.Debug("entry retry", "entry", entry.Ref(), "attempt", attempt, "delay", d, "error", err)
		if err := e.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// process routes one entry by what its type means to the index.
func (e *Engine) process(ctx context.Context, entry *ir.JournalEntry) error {
	if entry.DataType == ir.SchemaType {
		return e.Refresh(ctx)
	}

	for _, sub := range e.bySource[entry.DataType] {
		if err := e.applySource(ctx, sub, entry); err != nil {
			return err
		}
	}
	if entry.Op == ir.OpDelete {
		if err := e.retractRegistered(ctx, entry.DataType, entry.DataID); err != nil {
			return err
		}
	}

	if len(e.byTarget[entry.DataType]) == 0 {
		return nil
	}
	if entry.Op == ir.OpDelete {
		return e.store.RemoveIndexTarget(ctx, entry.DataType, entry.DataID)
	}
	for _, sub := range e.byTarget[entry.DataType] {
		if err := e.backfill(ctx, sub, entry.DataID); err != nil {
			return err
		}
	}
	return nil
}

// applySource inserts or retracts the entry's record for one subscription.
func (e *Engine) applySource(ctx context.Context, sub schema.Subscription, entry *ir.JournalEntry) error {
	var (
		oldTarget, newTarget schema.IndexTarget
		hadOld, hasNew       bool
	)
	if entry.Before != nil {
		t, err := sub.Template.Render(entry.Before.Data)
		oldTarget, hadOld = t, err == nil
	}
	if entry.After != nil {
		t, err := sub.Template.Render(entry.After.Data)
		newTarget, hasNew = t, err == nil
	}

	if hadOld && (!hasNew || oldTarget.String() != newTarget.String()) {
		if err := e.retract(ctx, sub, oldTarget, entry.DataID); err != nil {
			return err
		}
	}
	if hasNew {
		return e.insert(ctx, sub, newTarget, entry.DataID)
	}
	return nil
}

// insert set-inserts sourceID at target when every segment before the
// final collection exists.
func (e *Engine) insert(ctx context.Context, sub schema.Subscription, target schema.IndexTarget, sourceID string) error {
	rec, err := e.graph.Record(ctx, target.Type, target.ID)
	if ir.IsNotFound(err) {
		e.logger.Debug("index target missing", "target", target.String(), "source", sourceID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	sch, err := e.graph.Schema(ctx, target.Type, rec.Version)
	if err != nil {
		return err
	}
	if err := targetReady(sch, rec, target.Path); err != nil {
		if ir.IsCode(err, ir.CodePathNotFound) {
			e.logger.Debug("index target path missing", "target", target.String(), "source", sourceID, "error", err)
			return nil
		}
		return err
	}

	_, err = e.graph.Patch(ctx, target.Type, target.ID, target.Path, sourceID)
	if ir.IsCode(err, ir.CodePathNotFound) || ir.IsNotFound(err) {
		e.logger.Debug("index target gone", "target", target.String(), "source", sourceID, "error", err)
		return nil
	}
	if ir.IsCode(err, ir.CodeValidationFailed) && !(e.graph.IsLocal(target.Type) && e.graph.IsLocal(sub.Source)) {
		return e.refusedAcrossStores(ctx, sub, target, sourceID, err)
	}
	if err != nil {
		return err
	}
	e.logger.Debug("index inserted", "target", target.String(), "source", sourceID)
	return e.store.AddIndexEntry(ctx, store.IndexEntry{
		TargetType: target.Type,
		TargetID:   target.ID,
		Path:       target.Path.String(),
		SourceType: sub.Source,
		SourceID:   sourceID,
	})
}

// refusedAcrossStores classifies an insert refused with VALIDATION_FAILED
// when source and target live in different stores. While the source still
// exists the target store cannot see it yet, usually because the
// inventory has not synced the source type, and the insert is retried.
func (e *Engine) refusedAcrossStores(ctx context.Context, sub schema.Subscription, target schema.IndexTarget, sourceID string, refusal error) error {
	_, err := e.graph.Record(ctx, sub.Source, sourceID)
	switch {
	case ir.IsNotFound(err):
		return refusal
	case err != nil:
		return err
	}
	return &ir.Error{
		Code:    ir.CodeUnavailable,
		Message: fmt.Sprintf("%s/%s cannot resolve %s/%s yet", target.Type, target.ID, sub.Source, sourceID),
		Path:    target.Path.String(),
		Err:     refusal,
	}
}

// retract removes sourceID from the collection at target. A missing
// record, path or item counts as already retracted.
func (e *Engine) retract(ctx context.Context, sub schema.Subscription, target schema.IndexTarget, sourceID string) error {
	parent, last, ok := target.Path.Parent()
	if !ok {
		return nil
	}
	_, err := e.graph.Patch(ctx, target.Type, target.ID, parent.Append(queryir.Keyed(last.Field, sourceID)), nil)
	if err != nil && !ir.IsCode(err, ir.CodePathNotFound) && !ir.IsNotFound(err) {
		return err
	}
	e.logger.Debug("index retracted", "target", target.String(), "source", sourceID)
	return e.store.RemoveIndexEntry(ctx, store.IndexEntry{
		TargetType: target.Type,
		TargetID:   target.ID,
		Path:       target.Path.String(),
		SourceType: sub.Source,
		SourceID:   sourceID,
	})
}

// retractRegistered retracts every registered insertion of a deleted
// source, including ones made under templates that no longer render.
func (e *Engine) retractRegistered(ctx context.Context, sourceType, sourceID string) error {
	rows, err := e.store.IndexEntriesBySource(ctx, sourceType, sourceID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		path, err := queryir.ParsePath(row.Path)
		if err != nil {
			return fmt.Errorf("registry row %s/%s: %w", row.TargetType, row.TargetID, err)
		}
		target := schema.IndexTarget{Type: row.TargetType, ID: row.TargetID, Path: path}
		sub := schema.Subscription{Target: row.TargetType, Source: row.SourceType}
		if err := e.retract(ctx, sub, target, sourceID); err != nil {
			return err
		}
	}
	return nil
}

// backfill inserts every source record of sub that renders into the
// target record targetID. An empty targetID scans for every target.
func (e *Engine) backfill(ctx context.Context, sub schema.Subscription, targetID string) error {
	ids, err := e.graph.List(ctx, sub.Source)
	if ir.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, id := range ids {
		src, err := e.graph.Record(ctx, sub.Source, id)
		if ir.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		target, err := sub.Template.Render(src.Data)
		if err != nil || target.Type != sub.Target {
			continue
		}
		if targetID != "" && target.ID != targetID {
			continue
		}
		if err := e.insert(ctx, sub, target, id); err != nil {
			return err
		}
	}
	return nil
}

// targetReady checks that the collection's parent exists in rec.
func targetReady(sch *schema.Schema, rec *ir.Record, path queryir.Path) error {
	parent, _, _ := path.Parent()
	_, _, err := traverse.Lookup(sch, rec.Data, parent)
	return err
}
