package expr

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/shopspring/decimal"

	"github.com/roach88/querybind/internal/edm"
)

var opSymbols = map[Op]string{
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
	OpHas: "has",
}

func (op Op) String() string {
	if s, ok := opSymbols[op]; ok {
		return s
	}
	return "?"
}

// FormatValue renders a normalized runtime value as a literal.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case decimal.Decimal:
		return x.String() + "m"
	case []byte:
		return "binary'" + base64.StdEncoding.EncodeToString(x) + "'"
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return "duration'" + x.String() + "'"
	case edm.LocalDate:
		return x.String()
	case edm.LocalTime:
		return x.String()
	case orb.Geometry:
		return "geography'" + wkt.MarshalString(x) + "'"
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", v)
}

func (e *Constant) String() string {
	if e.Parameterized {
		return "@" + FormatValue(e.Value)
	}
	return FormatValue(e.Value)
}

func (e *Parameter) String() string { return e.Name }

func (e *Member) String() string { return e.Source.String() + "." + e.Property.Name }

func (e *DynamicMember) String() string {
	return e.Source.String() + "[" + strconv.Quote(e.Name) + "]"
}

func (e *WrapperField) String() string {
	return e.Source.String() + "{" + e.Path + "}"
}

func (e *Binary) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}

func (e *Unary) String() string {
	if e.Op == OpNot {
		return "!" + e.Operand.String()
	}
	return "-" + e.Operand.String()
}

func (e *Convert) String() string {
	return "convert(" + e.Operand.String() + ", " + e.T.String() + ")"
}

func (e *Call) String() string {
	return e.Func.Name + "(" + join(e.Args) + ")"
}

func (e *Guard) String() string {
	return "guard[" + join(e.Checks) + "](" + e.Body.String() + ")"
}

func (e *IsTrue) String() string { return "istrue(" + e.Operand.String() + ")" }

func (e *Quantifier) String() string {
	if e.Body == nil {
		return e.Kind.String() + "(" + e.Source.String() + ")"
	}
	return e.Kind.String() + "(" + e.Source.String() + ", " + e.Param.Name + " => " + e.Body.String() + ")"
}

func (e *Count) String() string {
	if e.Filter == nil {
		return "count(" + e.Source.String() + ")"
	}
	return "count(" + e.Source.String() + ", " + e.Param.Name + " => " + e.Filter.String() + ")"
}

func (e *In) String() string {
	return "in(" + e.Operand.String() + ", [" + join(e.Items) + "])"
}

func (e *TypeCheck) String() string {
	op := "isof"
	if e.Cast {
		op = "cast"
	}
	return op + "(" + e.Operand.String() + ", " + e.Target.FullName() + ")"
}

func (e *Aggregate) String() string {
	name := e.Method.String()
	if e.Custom != nil {
		name = e.Custom.Label
	}
	if e.Method == AggregateCount {
		return name + "(" + e.Source.String() + ")"
	}
	return name + "(" + e.Source.String() + ", " + e.Param.Name + " => " + e.Selector.String() + ")"
}

func join(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
