package expr

// NewGuard returns body guarded by checks, applying the guard elimination
// rules:
//
//	Guard(c1, Guard(c2, x))  =>  Guard(c1 ++ c2, x)
//	a check that is itself Guard(c, x)  =>  checks c and x
//	non-null constant checks are dropped
//	structurally identical checks are kept once
//	Guard((), x)  =>  x
func NewGuard(checks []Expr, body Expr) Expr {
	var all []Expr
	all = appendChecks(all, checks...)
	if g, ok := body.(*Guard); ok {
		all = appendChecks(all, g.Checks...)
		body = g.Body
	}
	all = dedupe(all)
	if len(all) == 0 {
		return body
	}
	return &Guard{Checks: all, Body: body}
}

func appendChecks(dst []Expr, checks ...Expr) []Expr {
	for _, c := range checks {
		switch c := c.(type) {
		case *Guard:
			dst = appendChecks(dst, c.Checks...)
			dst = appendChecks(dst, c.Body)
		case *Constant:
			if c.Value == nil {
				dst = append(dst, c)
			}
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func dedupe(checks []Expr) []Expr {
	if len(checks) < 2 {
		return checks
	}
	seen := make(map[string]bool, len(checks))
	out := checks[:0:0]
	for _, c := range checks {
		key := c.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// HoistArgs strips the guards of call arguments and returns their checks
// once, so the enclosing call carries a single guard.
func HoistArgs(args []Expr) (checks []Expr, bare []Expr) {
	bare = make([]Expr, len(args))
	for i, a := range args {
		if g, ok := a.(*Guard); ok {
			checks = append(checks, g.Checks...)
			bare[i] = g.Body
			continue
		}
		bare[i] = a
	}
	return dedupe(checks), bare
}

// Unguard returns the body of a guard and its checks.
func Unguard(e Expr) ([]Expr, Expr) {
	if g, ok := e.(*Guard); ok {
		return g.Checks, g.Body
	}
	return nil, e
}

// Walk visits e and its children depth-first. Returning false from visit
// skips the children of that node.
func Walk(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	for _, c := range children(e) {
		Walk(c, visit)
	}
}

func children(e Expr) []Expr {
	switch e := e.(type) {
	case *Member:
		return []Expr{e.Source}
	case *DynamicMember:
		return []Expr{e.Source}
	case *WrapperField:
		return []Expr{e.Source}
	case *Binary:
		return []Expr{e.Left, e.Right}
	case *Unary:
		return []Expr{e.Operand}
	case *Convert:
		return []Expr{e.Operand}
	case *Call:
		return e.Args
	case *Guard:
		return append(append([]Expr{}, e.Checks...), e.Body)
	case *IsTrue:
		return []Expr{e.Operand}
	case *Quantifier:
		return nonNil(e.Source, e.Body)
	case *Count:
		return nonNil(e.Source, e.Filter)
	case *In:
		return append([]Expr{e.Operand}, e.Items...)
	case *TypeCheck:
		return []Expr{e.Operand}
	case *Aggregate:
		return nonNil(e.Source, e.Selector)
	}
	return nil
}

func nonNil(es ...Expr) []Expr {
	out := es[:0:0]
	for _, e := range es {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Rewrite rebuilds e bottom-up, replacing every node n with f(n) after its
// children have been rewritten.
func Rewrite(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	r := func(x Expr) Expr { return Rewrite(x, f) }
	rs := func(xs []Expr) []Expr {
		out := make([]Expr, len(xs))
		for i, x := range xs {
			out[i] = r(x)
		}
		return out
	}
	switch n := e.(type) {
	case *Member:
		c := *n
		c.Source = r(n.Source)
		e = &c
	case *DynamicMember:
		c := *n
		c.Source = r(n.Source)
		e = &c
	case *WrapperField:
		c := *n
		c.Source = r(n.Source)
		e = &c
	case *Binary:
		c := *n
		c.Left, c.Right = r(n.Left), r(n.Right)
		e = &c
	case *Unary:
		c := *n
		c.Operand = r(n.Operand)
		e = &c
	case *Convert:
		c := *n
		c.Operand = r(n.Operand)
		e = &c
	case *Call:
		c := *n
		c.Args = rs(n.Args)
		e = &c
	case *Guard:
		e = &Guard{Checks: rs(n.Checks), Body: r(n.Body)}
	case *IsTrue:
		e = &IsTrue{Operand: r(n.Operand)}
	case *Quantifier:
		c := *n
		c.Source, c.Body = r(n.Source), r(n.Body)
		e = &c
	case *Count:
		c := *n
		c.Source, c.Filter = r(n.Source), r(n.Filter)
		e = &c
	case *In:
		e = &In{Operand: r(n.Operand), Items: rs(n.Items)}
	case *TypeCheck:
		c := *n
		c.Operand = r(n.Operand)
		e = &c
	case *Aggregate:
		c := *n
		c.Source, c.Selector = r(n.Source), r(n.Selector)
		e = &c
	}
	return f(e)
}

// EliminateGuards applies the guard elimination rules of NewGuard to every
// guard in e.
func EliminateGuards(e Expr) Expr {
	return Rewrite(e, func(n Expr) Expr {
		if g, ok := n.(*Guard); ok {
			return NewGuard(g.Checks, g.Body)
		}
		return n
	})
}

// CountGuards returns the number of Guard nodes in e.
func CountGuards(e Expr) int {
	n := 0
	Walk(e, func(x Expr) bool {
		if _, ok := x.(*Guard); ok {
			n++
		}
		return true
	})
	return n
}
