package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/testutil"
	"github.com/roach88/unitao/internal/traverse"
)

// Harness executes the steps of one scenario against a cluster.
type Harness struct {
	cluster *cluster
	seq     *testutil.Sequence
	logger  *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger of the cluster. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario on a fresh cluster and returns the result.
//
// An error means the scenario could not be executed: the cluster did not
// start or a setup step failed. Failed expectations and assertions are
// reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := startCluster(ctx, scenario.Stores, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start cluster: %w", err)
	}
	defer c.close()

	h := &Harness{
		cluster: c,
		seq:     testutil.NewSequence(),
		logger:  o.logger,
	}

	for i, step := range scenario.Setup {
		if _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}
	}

	h.seq.Reset()

	result := NewResult()
	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, step)
		if err != nil && ev.Outcome == "" {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		}
		result.AddTrace(ev)
		if msg := checkExpect(step, ev, err); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, step.Op, ev.Target, msg))
		}
	}

	for _, msg := range evaluateAssertions(ctx, result, scenario.Assertions, c) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and settles the cluster. A non-nil error with an
// empty outcome is a harness failure; with an outcome it is the step's
// own error.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Op: step.Op, Store: step.Store, Path: step.Path}
	switch {
	case step.ID != "":
		ev.Target = step.Type + "/" + step.ID
	case step.Type != "":
		ev.Target = step.Type
	}

	res, err := h.dispatch(ctx, step, &ev)
	if ev.Store == "" {
		return ev, err
	}
	ev.Seq = h.seq.Next()

	if err != nil {
		ev.Outcome = string(ir.CodeOf(err))
		if ev.Outcome == "" {
			ev.Outcome = "ERROR"
		}
	} else {
		ev.Outcome = OutcomeOK
		if ev.Result, err = jsonTree(res); err != nil {
			return TraceEvent{}, fmt.Errorf("encode result: %w", err)
		}
	}
	if serr := h.cluster.settle(ctx); serr != nil {
		return TraceEvent{}, serr
	}
	h.logger.Debug("step executed", "seq", ev.Seq, "op", ev.Op, "store", ev.Store, "target", ev.Target, "outcome", ev.Outcome)
	return ev, err
}

// dispatch performs the step. ev.Store is set once a store is chosen,
// which separates step errors from harness errors.
func (h *Harness) dispatch(ctx context.Context, step Step, ev *TraceEvent) (any, error) {
	c := h.cluster

	if step.Op == OpSync {
		ev.Store = InventoryStore
		if err := c.sync(ctx); err != nil {
			return nil, err
		}
		return c.schemaTypes(), nil
	}
	if step.Store == InventoryStore {
		ev.Store = InventoryStore
		return h.inventoryRead(ctx, step)
	}

	n, err := c.host(step.Store, step.Type)
	if err != nil {
		return nil, err
	}
	ev.Store = n.name
	data, err := jsonObject(step.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	value, err := jsonTree(step.Value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	if step.Op == OpRegister {
		docs, err := loadSpec(step.Spec)
		if err != nil {
			return nil, err
		}
		registered := make([]any, 0, len(docs))
		for _, doc := range docs {
			if _, err := n.svc.RegisterSchema(ctx, doc); err != nil {
				return nil, err
			}
			registered = append(registered, doc.ID+"@"+doc.Version)
		}
		if err := c.sync(ctx); err != nil {
			return nil, err
		}
		return registered, nil
	}

	var q queryir.Query
	var path queryir.Path
	switch step.Op {
	case OpResolve:
		if q, err = parseQuery(step); err != nil {
			return nil, err
		}
	case OpPatch:
		if path, err = queryir.ParsePath(step.Path); err != nil {
			return nil, err
		}
	}

	svc := n.svc
	switch step.Op {
	case OpCreate:
		rec, err := svc.Create(ctx, &ir.Record{ID: step.ID, Type: step.Type, Version: step.Version, Data: data})
		if rec != nil {
			ev.Target = rec.Type + "/" + rec.ID
		}
		return rec, err
	case OpReplace:
		return svc.Replace(ctx, step.Type, step.ID, step.Version, data)
	case OpPatch:
		return svc.Patch(ctx, step.Type, step.ID, path, value)
	case OpDelete:
		return nil, svc.Delete(ctx, step.Type, step.ID)
	case OpGet:
		return svc.Read(ctx, step.Type, step.ID)
	case OpList:
		return svc.List(ctx, step.Type)
	case OpResolve:
		res, err := svc.Resolve(ctx, step.Type, step.ID, q)
		if err != nil {
			return nil, err
		}
		return res.Body(), nil
	}
	ev.Store = ""
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) inventoryRead(ctx context.Context, step Step) (any, error) {
	inv := h.cluster.inventory
	switch step.Op {
	case OpGet:
		return inv.Record(ctx, step.Type, step.ID)
	case OpList:
		return inv.List(ctx, step.Type)
	case OpResolve:
		q, err := parseQuery(step)
		if err != nil {
			return nil, err
		}
		var res *traverse.Result
		if res, err = inv.ResolvePath(ctx, step.Type, step.ID, q); err != nil {
			return nil, err
		}
		return res.Body(), nil
	}
	return nil, fmt.Errorf("op %s is not served by the inventory", step.Op)
}

func parseQuery(step Step) (queryir.Query, error) {
	values := url.Values{}
	for _, m := range step.Modifiers {
		values.Set(m, "")
	}
	return queryir.ParseQuery(step.Path, values)
}

// checkExpect compares a flow step's outcome with its expectation and
// returns a description of the mismatch, or "".
func checkExpect(step Step, ev TraceEvent, err error) string {
	want := OutcomeOK
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if ev.Outcome != want {
		if err != nil {
			return fmt.Sprintf("expected %s, got %s: %v", want, ev.Outcome, err)
		}
		return fmt.Sprintf("expected %s, got %s", want, ev.Outcome)
	}
	if step.Expect == nil || step.Expect.Result == nil {
		return ""
	}
	expected, jerr := jsonTree(step.Expect.Result)
	if jerr != nil {
		return fmt.Sprintf("expected result: %v", jerr)
	}
	if !matchSubset(ev.Result, expected) {
		return fmt.Sprintf("result %s does not contain %s", compact(ev.Result), compact(expected))
	}
	return ""
}

// jsonTree converts v to the tree encoding/json decodes it to, so values
// from YAML and from the services compare and serialize alike.
func jsonTree(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonObject(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	tree, err := jsonTree(m)
	if err != nil {
		return nil, err
	}
	return tree.(map[string]any), nil
}

func compact(v any) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
