package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/unitao/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s\n", ev.Seq, ev.Store, ev.Op, ev.Target, ev.Outcome)
		}
	}
	return buf.String()
}

// evaluateAssertions evaluates all assertions against the result and the
// cluster state. It returns a message per failed assertion.
func evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, c *cluster) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = assertRecord(ctx, c, a)
		case AssertJournal:
			err = assertJournal(ctx, c, a)
		case AssertIndex:
			err = assertIndex(ctx, c, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errors
}

// assertRecord checks that the record's data contains a.Expect, or that
// the record does not exist when a.Absent is set.
func assertRecord(ctx context.Context, c *cluster, a Assertion) error {
	typ, id, err := splitRecord(a.Record)
	if err != nil {
		return err
	}
	n, err := c.host(a.Store, typ)
	if err != nil {
		return err
	}

	rec, err := n.svc.Read(ctx, typ, id)
	if a.Absent {
		if ir.IsCode(err, ir.CodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%s absent from %s", a.Record, n.name),
			Actual:   "record exists: " + compact(rec),
		}
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%s in %s", a.Record, n.name),
			Actual:   err.Error(),
		}
	}

	actual, err := jsonTree(rec.Data)
	if err != nil {
		return err
	}
	expected, err := jsonTree(a.Expect)
	if err != nil {
		return err
	}
	if !matchSubset(actual, expected) {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%s data containing %s", a.Record, compact(expected)),
			Actual:   compact(actual),
		}
	}
	return nil
}

// assertJournal checks the exact op sequence journaled for a record,
// archived entries first.
func assertJournal(ctx context.Context, c *cluster, a Assertion) error {
	typ, id, err := splitRecord(a.Record)
	if err != nil {
		return err
	}
	n, err := c.host(a.Store, typ)
	if err != nil {
		return err
	}

	archived, err := n.svc.Journal().ListArchived(ctx, typ, id)
	if err != nil {
		return err
	}
	active, err := n.svc.Journal().ListActive(ctx, typ, id)
	if err != nil {
		return err
	}
	ops := []string{}
	for _, page := range slices.Concat(archived, active) {
		for _, e := range page.Entries {
			ops = append(ops, string(e.Op))
		}
	}

	want := a.Ops
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(ops, want) {
		return &AssertionError{
			Type:     AssertJournal,
			Expected: fmt.Sprintf("%s journal %v", a.Record, want),
			Actual:   fmt.Sprintf("%v", ops),
		}
	}
	return nil
}

// assertIndex checks that the cmtIdx registry of a.Target holds at least
// the expected source ids per location. Ids compare as sets.
func assertIndex(ctx context.Context, c *cluster, a Assertion) error {
	n, err := c.host(a.Store, a.Target)
	if err != nil {
		return err
	}
	rec, err := n.svc.Read(ctx, ir.CmtIdxType, a.Target)
	if err != nil {
		return &AssertionError{
			Type:     AssertIndex,
			Expected: fmt.Sprintf("index state for %s in %s", a.Target, n.name),
			Actual:   err.Error(),
		}
	}

	registry, _ := rec.Data["registry"].(map[string]any)
	for _, loc := range ir.SortedKeys(a.Expect) {
		want := stringSet(a.Expect[loc])
		got := stringSet(registry[loc])
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     AssertIndex,
				Expected: fmt.Sprintf("%s indexed by %v", loc, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// assertTraceContains checks that some traced step matches the op, the
// optional target and the optional outcome.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchEvent(ev, a) && (a.Record == "" || ev.Target == a.Record) {
			return nil
		}
	}
	expected := a.Op
	if a.Record != "" {
		expected += " " + a.Record
	}
	if a.Outcome != "" {
		expected += " -> " + a.Outcome
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that the op appears exactly a.Count times,
// restricted to a.Outcome when set.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchEvent(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d time(s)", a.Op, a.Count),
			Actual:   fmt.Sprintf("appears %d time(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

func matchEvent(ev TraceEvent, a Assertion) bool {
	return ev.Op == a.Op && (a.Outcome == "" || ev.Outcome == a.Outcome)
}

// matchSubset reports whether actual contains expected: objects match
// key by key, arrays element-wise with equal length, scalars exactly.
func matchSubset(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !matchSubset(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(act[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return ir.EqualValues(actual, expected)
	}
}

// stringSet returns the sorted string items of a list value.
func stringSet(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	slices.Sort(out)
	return out
}
