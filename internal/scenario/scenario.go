package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a model, a set of rows and the queries to run against them.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Model is an inline CUE model document (see edm.LoadCUE).
	Model string `yaml:"model,omitempty"`

	// ModelFile is a path to a CUE model document, relative to the
	// scenario file. Exactly one of Model and ModelFile is set.
	ModelFile string `yaml:"model_file,omitempty"`

	// Entity names the element type of Data, qualified or relative to the
	// model namespace.
	Entity string `yaml:"entity"`

	// Data are the rows queries run against. Nested maps and lists hold
	// complex values and navigation targets.
	Data []map[string]any `yaml:"data"`

	// Settings overrides binder settings for every query.
	Settings *SettingsDoc `yaml:"settings,omitempty"`

	Queries []Query `yaml:"queries"`

	// dir is the directory relative paths resolve against.
	dir string
}

// SettingsDoc holds the binder settings a scenario may override.
type SettingsDoc struct {
	// NullPropagation is "default", "true" or "false".
	NullPropagation string `yaml:"null_propagation,omitempty"`

	// TimeZone is an IANA zone name.
	TimeZone string `yaml:"timezone,omitempty"`

	Parameterize      bool `yaml:"parameterize,omitempty"`
	PageSize          int  `yaml:"page_size,omitempty"`
	MaxTop            int  `yaml:"max_top,omitempty"`
	MaxExpansionDepth *int `yaml:"max_expansion_depth,omitempty"`
}

// Query is one request: the system query options over the scenario rows.
type Query struct {
	Name    string           `yaml:"name"`
	Filter  *Node            `yaml:"filter,omitempty"`
	OrderBy []OrderKey       `yaml:"orderby,omitempty"`
	Apply   []Transformation `yaml:"apply,omitempty"`
	Select  []string         `yaml:"select,omitempty"`
	Expand  []Expand         `yaml:"expand,omitempty"`
	Skip    *int             `yaml:"skip,omitempty"`
	Top     *int             `yaml:"top,omitempty"`
	Count   bool             `yaml:"count,omitempty"`

	// Expect, when present, is checked by Check.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Node is one expression of a clause. Exactly one of its forms is set:
//
//	{path: Category/Name}                 property path from $it
//	{path: Name, of: t}                   property path from a lambda variable
//	{var: t}                              the lambda variable itself
//	{const: 10, type: Edm.Decimal}        literal, typed or inferred
//	{null: true}                          the null literal
//	{typename: Shop.Special}              type name argument of cast and isof
//	{op: gt, left: ..., right: ...}       binary operator (eq, and, add, has, ...)
//	{not: ...} / {neg: ...}               unary operators
//	{call: startswith, args: [...]}       canonical function call
//	{in: ..., list: [...]}                membership in a literal list
//	{in: ..., right: ...}                 membership in a collection
//	{any: {source: ..., var: t, body: ...}}
//	{all: {source: ..., var: t, body: ...}}
//	{count: {source: ..., var: t, filter: ...}}
type Node struct {
	Path     string   `yaml:"path,omitempty"`
	Of       string   `yaml:"of,omitempty"`
	Var      string   `yaml:"var,omitempty"`
	Const    any      `yaml:"const,omitempty"`
	Type     string   `yaml:"type,omitempty"`
	Null     bool     `yaml:"null,omitempty"`
	TypeName string   `yaml:"typename,omitempty"`
	Op       string   `yaml:"op,omitempty"`
	Left     *Node    `yaml:"left,omitempty"`
	Right    *Node    `yaml:"right,omitempty"`
	Not      *Node    `yaml:"not,omitempty"`
	Neg      *Node    `yaml:"neg,omitempty"`
	Call     string   `yaml:"call,omitempty"`
	Args     []*Node  `yaml:"args,omitempty"`
	In       *Node    `yaml:"in,omitempty"`
	List     []*Node  `yaml:"list,omitempty"`
	Any      *Lambda  `yaml:"any,omitempty"`
	All      *Lambda  `yaml:"all,omitempty"`
	Count    *CountOf `yaml:"count,omitempty"`
}

// Lambda is the operand of any and all. A nil Body in any tests for a
// non-empty collection.
type Lambda struct {
	Source *Node  `yaml:"source"`
	Var    string `yaml:"var,omitempty"`
	Body   *Node  `yaml:"body,omitempty"`
}

// CountOf is the operand of $count. Filter paths reach the items through
// Var.
type CountOf struct {
	Source *Node  `yaml:"source"`
	Var    string `yaml:"var,omitempty"`
	Filter *Node  `yaml:"filter,omitempty"`
}

// OrderKey is one $orderby key.
type OrderKey struct {
	Node `yaml:",inline"`
	Desc bool `yaml:"desc,omitempty"`
}

// Transformation is one $apply stage: filter, groupby (with an optional
// aggregate) or aggregate.
type Transformation struct {
	Filter    *Node       `yaml:"filter,omitempty"`
	GroupBy   []string    `yaml:"groupby,omitempty"`
	Aggregate []Aggregate `yaml:"aggregate,omitempty"`
}

// Aggregate is "Expr with With as As". With is a method keyword (sum, min,
// max, average, countdistinct, $count) or a custom method label.
type Aggregate struct {
	Expr *Node  `yaml:"expr,omitempty"`
	With string `yaml:"with"`
	As   string `yaml:"as"`
}

// Expand is one $expand item with its nested options.
type Expand struct {
	Path    string     `yaml:"path"`
	Cast    string     `yaml:"cast,omitempty"`
	Select  []string   `yaml:"select,omitempty"`
	Expand  []Expand   `yaml:"expand,omitempty"`
	Filter  *Node      `yaml:"filter,omitempty"`
	OrderBy []OrderKey `yaml:"orderby,omitempty"`
	Skip    *int       `yaml:"skip,omitempty"`
	Top     *int       `yaml:"top,omitempty"`
	Count   bool       `yaml:"count,omitempty"`
}

// Expect is the expected outcome of a query. Rows and Count are compared
// in canonical form; Error is a compile or validation error code.
type Expect struct {
	Rows  []any  `yaml:"rows,omitempty"`
	Count *int64 `yaml:"count,omitempty"`
	Error string `yaml:"error,omitempty"`
}

// Load reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse parses a scenario document. Relative paths in it resolve against
// dir.
func Parse(data []byte, dir string) (*Scenario, error) {
	// Strict field validation catches typos like "orderBy:" vs "orderby:".
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	s.dir = dir

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if (s.Model == "") == (s.ModelFile == "") {
		return fmt.Errorf("exactly one of model and model_file is required")
	}
	if s.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		seen[q.Name] = true
		if err := validateNode(q.Filter); err != nil {
			return fmt.Errorf("queries[%d].filter: %w", i, err)
		}
		for j, k := range q.OrderBy {
			if err := validateNode(&k.Node); err != nil {
				return fmt.Errorf("queries[%d].orderby[%d]: %w", i, j, err)
			}
		}
		for j, t := range q.Apply {
			if err := validateTransformation(t); err != nil {
				return fmt.Errorf("queries[%d].apply[%d]: %w", i, j, err)
			}
		}
		if q.Expect != nil && q.Expect.Error != "" && (q.Expect.Rows != nil || q.Expect.Count != nil) {
			return fmt.Errorf("queries[%d].expect: error excludes rows and count", i)
		}
	}
	return nil
}

func validateTransformation(t Transformation) error {
	switch {
	case t.Filter != nil && (t.GroupBy != nil || t.Aggregate != nil):
		return fmt.Errorf("filter cannot be combined with groupby or aggregate")
	case t.Filter != nil:
		return validateNode(t.Filter)
	case t.GroupBy == nil && t.Aggregate == nil:
		return fmt.Errorf("one of filter, groupby and aggregate is required")
	}
	for i, a := range t.Aggregate {
		if a.With == "" || a.As == "" {
			return fmt.Errorf("aggregate[%d]: with and as are required", i)
		}
		if a.With != "$count" && a.Expr == nil {
			return fmt.Errorf("aggregate[%d]: expr is required for %s", i, a.With)
		}
		if a.Expr != nil {
			if err := validateNode(a.Expr); err != nil {
				return fmt.Errorf("aggregate[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// validateNode checks that every node sets exactly one form.
func validateNode(n *Node) error {
	if n == nil {
		return nil
	}
	forms := 0
	for _, set := range []bool{
		n.Path != "", n.Var != "", n.Const != nil, n.Null, n.TypeName != "", n.Op != "",
		n.Not != nil, n.Neg != nil, n.Call != "", n.In != nil, n.Any != nil, n.All != nil, n.Count != nil,
	} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return fmt.Errorf("node must set exactly one form, found %d", forms)
	}

	switch {
	case n.Op != "":
		if n.Left == nil || n.Right == nil {
			return fmt.Errorf("%s needs left and right", n.Op)
		}
		if err := validateNode(n.Left); err != nil {
			return err
		}
		return validateNode(n.Right)
	case n.Not != nil:
		return validateNode(n.Not)
	case n.Neg != nil:
		return validateNode(n.Neg)
	case n.Call != "":
		for _, a := range n.Args {
			if err := validateNode(a); err != nil {
				return err
			}
		}
	case n.In != nil:
		if (n.List == nil) == (n.Right == nil) {
			return fmt.Errorf("in needs exactly one of list and right")
		}
		for _, it := range n.List {
			if err := validateNode(it); err != nil {
				return err
			}
		}
		if err := validateNode(n.Right); err != nil {
			return err
		}
		return validateNode(n.In)
	case n.Any != nil || n.All != nil:
		l := n.Any
		if l == nil {
			l = n.All
		}
		if l.Source == nil {
			return fmt.Errorf("lambda source is required")
		}
		if n.All != nil && l.Body == nil {
			return fmt.Errorf("all needs a body")
		}
		if l.Body != nil && l.Var == "" {
			return fmt.Errorf("lambda with a body needs a variable")
		}
		if err := validateNode(l.Source); err != nil {
			return err
		}
		return validateNode(l.Body)
	case n.Count != nil:
		if n.Count.Source == nil {
			return fmt.Errorf("count source is required")
		}
		if n.Count.Filter != nil && n.Count.Var == "" {
			return fmt.Errorf("count with a filter needs a variable")
		}
		if err := validateNode(n.Count.Source); err != nil {
			return err
		}
		return validateNode(n.Count.Filter)
	}
	return nil
}
