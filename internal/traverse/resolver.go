package traverse

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// Source supplies records and schemas to a Resolver.
type Source interface {
	Schema(ctx context.Context, typ, version string) (*schema.Schema, error)
	Record(ctx context.Context, typ, id string) (*ir.Record, error)
}

// DefaultParallelism bounds concurrent wildcard branches per fan-out.
const DefaultParallelism = 8

// Resolver resolves path queries against a Source.
type Resolver struct {
	source      Source
	hopTimeout  time.Duration
	parallelism int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHopTimeout bounds every record or schema fetch. Zero disables the bound.
func WithHopTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.hopTimeout = d
	}
}

// WithParallelism bounds concurrent wildcard branches.
func WithParallelism(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// New creates a Resolver over src.
func New(src Source, opts ...Option) *Resolver {
	r := &Resolver{source: src, parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of Resolve. Exactly one of Value or Branches is
// meaningful: Branches when the query fans out.
type Result struct {
	FanOut   bool
	Value    any
	Branches []Branch
}

// Branch is the result of one wildcard element.
type Branch struct {
	Path  string       `json:"path"`
	Value any          `json:"value,omitempty"`
	Error *BranchError `json:"error,omitempty"`
}

// BranchError reports a failed branch.
type BranchError struct {
	Code    ir.ErrorCode `json:"code"`
	Message string       `json:"message"`
	Path    string       `json:"path,omitempty"`
}

// Body returns the JSON-ready result.
func (r *Result) Body() any {
	if r.FanOut {
		return r.Branches
	}
	return r.Value
}

// cursor is the position of one branch during resolution.
type cursor struct {
	label string
	rec   *ir.Record
	sch   *schema.Schema
	prop  schema.Property
	value any
	root  bool
}

type outcome struct {
	label string
	value any
	err   error
}

// Resolve fetches (typ, id) and walks q from it.
//
// A missing start record is NOT_FOUND. Without fan-out, any failure along
// the path is returned as the error; with fan-out, per-branch failures are
// reported in the branches and the error is nil.
func (r *Resolver) Resolve(ctx context.Context, typ, id string, q queryir.Query) (*Result, error) {
	if err := queryir.Validate(q); err != nil {
		return nil, err
	}
	start, err := r.open(ctx, typ, id)
	if err != nil {
		return nil, err
	}

	outs := r.walk(ctx, start, q, 0)
	if !fansOut(q) {
		o := outs[0]
		if o.err != nil {
			return nil, o.err
		}
		return &Result{Value: o.value}, nil
	}

	res := &Result{FanOut: true, Branches: make([]Branch, 0, len(outs))}
	for _, o := range outs {
		b := Branch{Path: o.label, Value: o.value}
		if o.err != nil {
			b.Value = nil
			b.Error = branchError(o.err)
		}
		res.Branches = append(res.Branches, b)
	}
	return res, nil
}

// fansOut reports whether q produces branches. A terminal wildcard under
// the iterator modifier lists keys instead of fanning out.
func fansOut(q queryir.Query) bool {
	for i, seg := range q.Path {
		if seg.Selector != queryir.SelectAll {
			continue
		}
		if i == len(q.Path)-1 && q.Modifiers.Iterator {
			continue
		}
		return true
	}
	return false
}

func (r *Resolver) open(ctx context.Context, typ, id string) (cursor, error) {
	rec, err := r.record(ctx, typ, id)
	if err != nil {
		return cursor{}, err
	}
	sch, err := r.schema(ctx, rec.Type, rec.Version)
	if err != nil {
		return cursor{}, err
	}
	return cursor{rec: rec, sch: sch, prop: rootProp(sch), value: rec.Data, root: true}, nil
}

func (r *Resolver) walk(ctx context.Context, c cursor, q queryir.Query, i int) []outcome {
	path := q.Path
	if i == len(path) {
		v, err := r.terminal(ctx, c, q.Modifiers)
		return []outcome{{label: c.label, value: v, err: err}}
	}
	seg := path[i]
	at := path.Prefix(i + 1)

	if ref, ok := c.prop.(*schema.RefProp); ok {
		hopped, err := r.hop(ctx, ref, c.value, path.Prefix(i))
		if err != nil {
			return []outcome{{label: c.label, err: err}}
		}
		hopped.label = c.label
		c = hopped
	}

	if seg.Selector != queryir.SelectAll {
		prop, val, err := descend(c.prop, c.value, seg, at)
		if err != nil {
			return []outcome{{label: join(c.label, seg.String()), err: err}}
		}
		next := cursor{label: join(c.label, seg.String()), rec: c.rec, sch: c.sch, prop: prop, value: val}
		return r.walk(ctx, next, q, i+1)
	}

	// Wildcard: resolve the collection, then fan out over its elements.
	coll, val, err := descend(c.prop, c.value, queryir.Field(seg.Field), at)
	if err != nil {
		return []outcome{{label: join(c.label, seg.String()), err: err}}
	}
	items := schema.Items(coll)
	if items == nil {
		return []outcome{{label: join(c.label, seg.String()), err: ir.PathNotFound(at, "field %q is not a collection", seg.Field)}}
	}
	if i == len(path)-1 && q.Modifiers.Iterator {
		collCursor := cursor{label: join(c.label, seg.Field), rec: c.rec, sch: c.sch, prop: coll, value: val}
		v, err := r.terminal(ctx, collCursor, q.Modifiers)
		return []outcome{{label: collCursor.label, value: v, err: err}}
	}

	elems := Elements(coll, val)
	results := make([][]outcome, len(elems))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for k, el := range elems {
		branch := cursor{
			label: join(c.label, queryir.Keyed(seg.Field, el.Key).String()),
			rec:   c.rec,
			sch:   c.sch,
			prop:  items,
			value: el.Value,
		}
		g.Go(func() error {
			results[k] = r.walk(ctx, branch, q, i+1)
			return nil
		})
	}
	_ = g.Wait()

	var outs []outcome
	for _, rs := range results {
		outs = append(outs, rs...)
	}
	return outs
}

// terminal renders the final node under the query modifiers.
func (r *Resolver) terminal(ctx context.Context, c cursor, mods queryir.Modifiers) (any, error) {
	if mods.Iterator {
		if !schema.IsCollection(c.prop) {
			return nil, &ir.Error{Code: ir.CodeBadRequest, Message: "iterator requires a collection", Path: c.label}
		}
		keys := []string{}
		for _, el := range Elements(c.prop, c.value) {
			keys = append(keys, el.Key)
		}
		return keys, nil
	}

	if ref, ok := c.prop.(*schema.RefProp); ok && !mods.Ref {
		hopped, err := r.hop(ctx, ref, c.value, c.label)
		if err != nil {
			return nil, err
		}
		c = hopped
	}

	if mods.Schema {
		if c.root {
			return c.sch.Doc, nil
		}
		return Describe(c.prop), nil
	}

	if c.root {
		rec := *c.rec
		if mods.Flat {
			rec.Data = flatten(c.prop, c.value).(map[string]any)
		}
		return &rec, nil
	}
	if mods.Flat {
		return flatten(c.prop, c.value), nil
	}
	return c.value, nil
}

// hop fetches the record a reference value points at.
func (r *Resolver) hop(ctx context.Context, ref *schema.RefProp, val any, at string) (cursor, error) {
	id, _ := val.(string)
	if id == "" {
		return cursor{}, ir.PathNotFound(at, "empty reference")
	}
	c, err := r.open(ctx, ref.Target, id)
	if ir.IsCode(err, ir.CodeNotFound) {
		return cursor{}, ir.PathNotFound(at, "reference %s/%s does not resolve", ref.Target, id)
	}
	return c, err
}

func (r *Resolver) record(ctx context.Context, typ, id string) (*ir.Record, error) {
	ctx, cancel := r.hopContext(ctx)
	defer cancel()
	rec, err := r.source.Record(ctx, typ, id)
	return rec, timeoutAsUnavailable(typ, err)
}

func (r *Resolver) schema(ctx context.Context, typ, version string) (*schema.Schema, error) {
	ctx, cancel := r.hopContext(ctx)
	defer cancel()
	sch, err := r.source.Schema(ctx, typ, version)
	return sch, timeoutAsUnavailable(typ, err)
}

func (r *Resolver) hopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.hopTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.hopTimeout)
}

func timeoutAsUnavailable(typ string, err error) error {
	if err != nil && ir.CodeOf(err) == "" && errors.Is(err, context.DeadlineExceeded) {
		return ir.Unavailable(typ, err)
	}
	return err
}

func branchError(err error) *BranchError {
	var e *ir.Error
	if errors.As(err, &e) {
		return &BranchError{Code: e.Code, Message: e.Message, Path: e.Path}
	}
	return &BranchError{Code: "INTERNAL", Message: err.Error()}
}

func join(label, seg string) string {
	if label == "" {
		return seg
	}
	return label + "/" + seg
}
