package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/unitao/internal/schema"
)

// CycleWarning reports a problem in the reference graph of a schema set.
//
// Cycles are warnings, not errors: a required-reference cycle only means
// the first record of every type on it can never be created, which is
// sometimes acceptable while a model is being built up.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["VirtualMachine", "VmHost", "VirtualMachine"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles builds the required-reference graph of a schema set and
// reports every cycle in it.
//
// A type depends on another when it holds a required reference to it,
// directly or through required nested objects. Arrays and maps impose no
// dependency since they may be created empty. Every reference on a cycle
// must exist before the record that holds it, so no record on the cycle can
// be created first.
//
// References to types not declared in the set are reported at info level;
// another store must serve them.
//
// Documents that do not compile are skipped (Validate reports them). When
// an id has several versions the last one is analyzed.
func AnalyzeCycles(docs []*schema.Document) []CycleWarning {
	latest := map[string]*schema.Schema{}
	for _, doc := range docs {
		sch, err := schema.Compile(doc)
		if err != nil {
			continue
		}
		latest[sch.ID] = sch
	}
	if len(latest) == 0 {
		return []CycleWarning{}
	}

	graph := buildReferenceGraph(latest)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	warnings = append(warnings, undeclaredTargets(latest)...)

	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// referenceGraph maps type id → type ids it requires.
type referenceGraph map[string][]string

func buildReferenceGraph(schemas map[string]*schema.Schema) referenceGraph {
	graph := make(referenceGraph)
	for id, sch := range schemas {
		targets := map[string]bool{}
		requiredRefs(sch.Root, map[*schema.Definition]bool{}, targets)
		graph[id] = []string{}
		for _, t := range sortedKeys(targets) {
			if _, declared := schemas[t]; declared {
				graph[id] = append(graph[id], t)
			}
		}
	}
	return graph
}

// requiredRefs collects the targets of required references reachable from
// def through required fields only.
func requiredRefs(def *schema.Definition, seen map[*schema.Definition]bool, out map[string]bool) {
	if seen[def] {
		return
	}
	seen[def] = true
	for _, f := range def.Fields {
		if !f.Info().Required {
			continue
		}
		switch p := f.(type) {
		case *schema.RefProp:
			out[p.Target] = true
		case *schema.ObjectProp:
			requiredRefs(p.Def, seen, out)
		}
	}
}

// undeclaredTargets lists reference targets, required or not, that no
// schema of the set declares.
func undeclaredTargets(schemas map[string]*schema.Schema) []CycleWarning {
	var warnings []CycleWarning
	for _, id := range sortedKeys(schemas) {
		targets := map[string]bool{}
		allRefs(schemas[id].Root, map[*schema.Definition]bool{}, targets)
		for _, t := range sortedKeys(targets) {
			if _, ok := schemas[t]; ok {
				continue
			}
			warnings = append(warnings, CycleWarning{
				Path:    []string{id, t},
				Message: fmt.Sprintf("%s references %s, which is not declared here", id, t),
				Level:   "info",
			})
		}
	}
	return warnings
}

func allRefs(def *schema.Definition, seen map[*schema.Definition]bool, out map[string]bool) {
	if seen[def] {
		return
	}
	seen[def] = true
	var visit func(p schema.Property)
	visit = func(p schema.Property) {
		switch v := p.(type) {
		case *schema.RefProp:
			out[v.Target] = true
		case *schema.ObjectProp:
			allRefs(v.Def, seen, out)
		case *schema.ArrayProp, *schema.MapProp:
			visit(schema.Items(v))
		}
	}
	for _, f := range def.Fields {
		visit(f)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph referenceGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Nodes are visited in sorted order so results are stable.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph referenceGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// For self-loops, the path is [type, type].
func cycleSCCToWarning(scc []string, graph referenceGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("%s requires a reference to another %s; the first one cannot be created", id, id),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("required references form a cycle, no record can be created first: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC by following edges
// between SCC members from the first node until it returns.
func reconstructCyclePath(scc []string, graph referenceGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
