package harness

// Outcome is the result of running one query of a scenario.
type Outcome struct {
	// Query is the query name.
	Query string `json:"query"`

	// Explain lists the bound clauses, one per line.
	Explain []string `json:"explain,omitempty"`

	// Rows are the projected rows, or the aggregated rows after $apply.
	Rows []map[string]any `json:"rows,omitempty"`

	// Count is set when the query asked for it.
	Count *int64 `json:"count,omitempty"`

	// ErrorCode is the compile or validation error code when the query
	// failed to bind.
	ErrorCode string `json:"error_code,omitempty"`

	// Err is the error that stopped the query, if any.
	Err error `json:"-"`
}

// toCanonicalMap renders the outcome for canonical JSON serialization.
func (o *Outcome) toCanonicalMap() map[string]any {
	m := map[string]any{"query": o.Query}
	if o.ErrorCode != "" {
		m["error"] = o.ErrorCode
		return m
	}
	if o.Err != nil {
		m["error"] = o.Err.Error()
		return m
	}
	rows := make([]any, len(o.Rows))
	for i, r := range o.Rows {
		rows[i] = r
	}
	m["rows"] = rows
	if o.Count != nil {
		m["count"] = *o.Count
	}
	return m
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates every expectation held.
	Pass bool `json:"pass"`

	// Outcomes are in query order.
	Outcomes []*Outcome `json:"outcomes"`

	// Errors contains failed expectations.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Outcomes: []*Outcome{},
		Errors:   []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcome returns the outcome of the named query.
func (r *Result) Outcome(name string) (*Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Query == name {
			return o, true
		}
	}
	return nil, false
}
