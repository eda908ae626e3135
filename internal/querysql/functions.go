package querysql

import (
	"time"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/functions"
)

// sqlFunction renders a call from its rendered arguments. Arguments may be
// repeated: bind parameters are numbered, so a repeated argument reuses its
// parameter.
type sqlFunction func(args []string) string

func datePart(format string) sqlFunction {
	return func(a []string) string {
		return "CAST(strftime('" + format + "', " + a[0] + ") AS INTEGER)"
	}
}

// dialect maps canonical function names to SQLite. SQLite's lower and upper
// fold ASCII letters only.
var dialect = map[string]sqlFunction{
	"contains":   func(a []string) string { return "(instr(" + a[0] + ", " + a[1] + ") > 0)" },
	"startswith": func(a []string) string { return "(substr(" + a[0] + ", 1, length(" + a[1] + ")) = " + a[1] + ")" },
	"endswith":   func(a []string) string { return "(substr(" + a[0] + ", -length(" + a[1] + ")) = " + a[1] + ")" },
	"length":     func(a []string) string { return "length(" + a[0] + ")" },
	"indexof":    func(a []string) string { return "(instr(" + a[0] + ", " + a[1] + ") - 1)" },
	"substring": func(a []string) string {
		if len(a) == 3 {
			return "substr(" + a[0] + ", " + a[1] + " + 1, " + a[2] + ")"
		}
		return "substr(" + a[0] + ", " + a[1] + " + 1)"
	},
	"tolower": func(a []string) string { return "lower(" + a[0] + ")" },
	"toupper": func(a []string) string { return "upper(" + a[0] + ")" },
	"trim":    func(a []string) string { return "trim(" + a[0] + ")" },
	"concat":  func(a []string) string { return "(" + a[0] + " || " + a[1] + ")" },
	"year":    datePart("%Y"),
	"month":   datePart("%m"),
	"day":     datePart("%d"),
	"hour":    datePart("%H"),
	"minute":  datePart("%M"),
	"second":  datePart("%S"),
	"date":    func(a []string) string { return "substr(" + a[0] + ", 1, 10)" },
	"time":    func(a []string) string { return "substr(" + a[0] + ", 12, 18)" },
	"round":   func(a []string) string { return "round(" + a[0] + ")" },

	functions.StringCompare.Name: func(a []string) string {
		return "(CASE WHEN " + a[0] + " < " + a[1] + " THEN -1 WHEN " + a[0] + " > " + a[1] +
			" THEN 1 WHEN " + a[0] + " = " + a[1] + " THEN 0 END)"
	},
	functions.BinaryEqual.Name: func(a []string) string { return "(" + a[0] + " = " + a[1] + ")" },

	// Date-times are stored in UTC, so only UTC reconciliation translates.
	functions.DateIn(time.UTC).Name: func(a []string) string { return "substr(" + a[0] + ", 1, 10)" },
	functions.TimeIn(time.UTC).Name: func(a []string) string { return "substr(" + a[0] + ", 12, 18)" },
}

// SupportsFunction reports whether calls to the named function translate.
func SupportsFunction(name string) bool {
	_, ok := dialect[name]
	return ok
}

func (w *writer) call(e *expr.Call) (string, error) {
	render, ok := dialect[e.Func.Name]
	if !ok {
		kinds := make([]string, len(e.Args))
		for i, a := range e.Args {
			kinds[i] = a.Type().String()
		}
		err := binder.NewFunctionNotSupportedError(e.Func.Name, kinds...)
		err.Details = map[string]string{"target": "sql"}
		return "", err
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		s, err := w.render(a)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	return render(args), nil
}
