package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/unitao/internal/ir"
)

// Scenario is one executable scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Stores are the data services of the cluster, in inventory order.
	Stores []StoreSpec `yaml:"stores"`

	// Setup establishes initial records. Setup steps must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the traced part of the scenario.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and the final cluster state.
	Assertions []Assertion `yaml:"assertions"`
}

// StoreSpec declares one data service and the CUE specs registered with it
// at start, in order.
type StoreSpec struct {
	Name  string   `yaml:"name"`
	Specs []string `yaml:"specs"`
}

// Step is one operation against the cluster.
type Step struct {
	Op string `yaml:"op"`

	// Store selects the data service, or "inventory" for reads through the
	// inventory service. Empty selects the store hosting Type.
	Store string `yaml:"store,omitempty"`

	Type    string `yaml:"type,omitempty"`
	ID      string `yaml:"id,omitempty"`
	Version string `yaml:"version,omitempty"`

	// Path is the patch path or the resolve path.
	Path string `yaml:"path,omitempty"`

	// Modifiers are resolve modifiers: schema, flat, iterator, ref.
	Modifiers []string `yaml:"modifiers,omitempty"`

	// Data is the record data of create and replace.
	Data map[string]any `yaml:"data,omitempty"`

	// Value is the patch value; absent removes.
	Value any `yaml:"value,omitempty"`

	// Spec is the CUE file of a register step.
	Spec string `yaml:"spec,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a flow step.
type Expect struct {
	// Error is the expected error code (e.g. "CONFLICT"). Empty expects
	// success.
	Error string `yaml:"error,omitempty"`

	// Result is matched as a subset of the step result.
	Result any `yaml:"result,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Store selects the data service; empty selects the host of the type.
	Store string `yaml:"store,omitempty"`

	// Record is "Type/id" (record, journal, trace_contains).
	Record string `yaml:"record,omitempty"`

	// Absent asserts the record does not exist (record).
	Absent bool `yaml:"absent,omitempty"`

	// Target is the indexed type (index).
	Target string `yaml:"target,omitempty"`

	// Expect is a data subset (record) or registry subset (index).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Ops is the exact journal op sequence (journal).
	Ops []string `yaml:"ops,omitempty"`

	// Op and Outcome select trace events (trace_contains, trace_count).
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Step ops.
const (
	OpRegister = "register"
	OpCreate   = "create"
	OpReplace  = "replace"
	OpPatch    = "patch"
	OpDelete   = "delete"
	OpGet      = "get"
	OpList     = "list"
	OpResolve  = "resolve"
	OpSync     = "sync"
)

// Assertion types.
const (
	AssertRecord        = "record"
	AssertJournal       = "journal"
	AssertIndex         = "index"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// InventoryStore is the Step.Store value that routes reads through the
// inventory service.
const InventoryStore = "inventory"

var modifierNames = []string{"schema", "flat", "iterator", "ref"}

// LoadScenario reads a scenario file, resolving spec paths relative to
// the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving relative spec
// paths against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || basePath == "" {
			return p
		}
		return filepath.Join(basePath, p)
	}
	for i := range scenario.Stores {
		for j, spec := range scenario.Stores[i].Specs {
			scenario.Stores[i].Specs[j] = resolve(spec)
		}
	}
	for i := range scenario.Setup {
		scenario.Setup[i].Spec = resolve(scenario.Setup[i].Spec)
	}
	for i := range scenario.Flow {
		scenario.Flow[i].Spec = resolve(scenario.Flow[i].Spec)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Stores) == 0 {
		return fmt.Errorf("stores list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i, st := range s.Stores {
		switch {
		case st.Name == "":
			return fmt.Errorf("stores[%d]: name is required", i)
		case st.Name == InventoryStore:
			return fmt.Errorf("stores[%d]: name %q is reserved", i, InventoryStore)
		case names[st.Name]:
			return fmt.Errorf("stores[%d]: duplicate store %q", i, st.Name)
		}
		names[st.Name] = true
		for _, spec := range st.Specs {
			if _, err := os.Stat(spec); os.IsNotExist(err) {
				return fmt.Errorf("stores[%d]: spec file not found: %s", i, spec)
			}
		}
	}

	for i := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &s.Setup[i], names, len(s.Stores)); err != nil {
			return err
		}
	}
	for i := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), &s.Flow[i], names, len(s.Stores)); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], names); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(at string, st *Step, stores map[string]bool, storeCount int) error {
	if st.Store != "" && st.Store != InventoryStore && !stores[st.Store] {
		return fmt.Errorf("%s: unknown store %q", at, st.Store)
	}
	if st.Store == InventoryStore {
		if storeCount < 2 {
			return fmt.Errorf("%s: the inventory store needs at least two stores", at)
		}
		if !slices.Contains([]string{OpGet, OpList, OpResolve}, st.Op) {
			return fmt.Errorf("%s: op %s is not served by the inventory", at, st.Op)
		}
	}
	for _, m := range st.Modifiers {
		if !slices.Contains(modifierNames, m) {
			return fmt.Errorf("%s: unknown modifier %q", at, m)
		}
	}

	needs := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s: %s is required for %s", at, field, st.Op)
		}
		return nil
	}
	switch st.Op {
	case OpRegister:
		if err := needs("spec", st.Spec); err != nil {
			return err
		}
		if _, err := os.Stat(st.Spec); os.IsNotExist(err) {
			return fmt.Errorf("%s: spec file not found: %s", at, st.Spec)
		}
	case OpCreate:
		if err := needs("type", st.Type); err != nil {
			return err
		}
		if st.Data == nil {
			return fmt.Errorf("%s: data is required for create", at)
		}
	case OpReplace:
		if err := needs("type", st.Type); err != nil {
			return err
		}
		if err := needs("id", st.ID); err != nil {
			return err
		}
		if st.Data == nil {
			return fmt.Errorf("%s: data is required for replace", at)
		}
	case OpPatch:
		if err := needs("type", st.Type); err != nil {
			return err
		}
		if err := needs("id", st.ID); err != nil {
			return err
		}
		if err := needs("path", st.Path); err != nil {
			return err
		}
	case OpDelete, OpGet, OpResolve:
		if err := needs("type", st.Type); err != nil {
			return err
		}
		if err := needs("id", st.ID); err != nil {
			return err
		}
	case OpList:
		if err := needs("type", st.Type); err != nil {
			return err
		}
	case OpSync:
		if storeCount < 2 {
			return fmt.Errorf("%s: sync needs at least two stores", at)
		}
	case "":
		return fmt.Errorf("%s: op is required", at)
	default:
		return fmt.Errorf("%s: unknown op %q", at, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, stores map[string]bool) error {
	if a.Store != "" && !stores[a.Store] {
		return fmt.Errorf("assertions[%d]: unknown store %q", index, a.Store)
	}
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRecord:
		if _, _, err := splitRecord(a.Record); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for record", index)
		}
	case AssertJournal:
		if _, _, err := splitRecord(a.Record); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		for _, op := range a.Ops {
			switch ir.Op(op) {
			case ir.OpCreate, ir.OpUpdate, ir.OpPatch, ir.OpDelete:
			default:
				return fmt.Errorf("assertions[%d]: unknown journal op %q", index, op)
			}
		}
	case AssertIndex:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for index", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for index", index)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// splitRecord parses "Type/id".
func splitRecord(s string) (typ, id string, err error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" {
		return "", "", fmt.Errorf("record %q: expected Type/id", s)
	}
	return typ, id, nil
}
