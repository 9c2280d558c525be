package harness

// TraceEvent records one flow step and its outcome.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Store   string `json:"store"`
	Target  string `json:"target,omitempty"` // "Type/id", "Type" for list
	Path    string `json:"path,omitempty"`
	Outcome string `json:"outcome"` // "ok" or the error code
	Result  any    `json:"result,omitempty"`
}

// OutcomeOK is the outcome of a successful step.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the flow steps in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes every failed expectation and assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
