package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/querybind/internal/canonical"
	"github.com/roach88/querybind/internal/scenario"
)

// AssertionError is returned when an outcome does not match its
// expectation.
type AssertionError struct {
	Query    string // Query name
	Type     string // What was compared: error, rows or count
	Expected string
	Actual   string
	Explain  []string // Bound clauses for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "query %s: %s mismatch\n", e.Query, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Explain) > 0 {
		fmt.Fprintf(&buf, "\nBound clauses:\n")
		for _, line := range e.Explain {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	return buf.String()
}

// Check compares an outcome with its expectation. A nil expectation only
// requires the query to have succeeded.
func Check(out *Outcome, expect *scenario.Expect) error {
	fail := func(typ, expected, actual string) error {
		return &AssertionError{Query: out.Query, Type: typ, Expected: expected, Actual: actual, Explain: out.Explain}
	}

	if expect != nil && expect.Error != "" {
		if out.ErrorCode != expect.Error {
			actual := out.ErrorCode
			if actual == "" {
				actual = describeError(out)
			}
			return fail("error", expect.Error, actual)
		}
		return nil
	}
	if out.Err != nil {
		return fail("error", "success", out.Err.Error())
	}
	if expect == nil {
		return nil
	}

	if expect.Rows != nil {
		actualRows := make([]any, len(out.Rows))
		for i, r := range out.Rows {
			actualRows[i] = r
		}
		want, err := canonical.Marshal(expect.Rows)
		if err != nil {
			return fmt.Errorf("query %s: expected rows: %w", out.Query, err)
		}
		got, err := canonical.Marshal(actualRows)
		if err != nil {
			return fmt.Errorf("query %s: rows: %w", out.Query, err)
		}
		if string(want) != string(got) {
			return fail("rows", string(want), string(got))
		}
	}

	if expect.Count != nil {
		if out.Count == nil {
			return fail("count", fmt.Sprint(*expect.Count), "no count")
		}
		if *out.Count != *expect.Count {
			return fail("count", fmt.Sprint(*expect.Count), fmt.Sprint(*out.Count))
		}
	}
	return nil
}

func describeError(out *Outcome) string {
	if out.Err != nil {
		return out.Err.Error()
	}
	return "success"
}
