package engine

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// predicate is a filter bound to one file's schema. eval decides a
// single row; skipRowGroup consults footer statistics to rule out a
// whole row group without reading it.
type predicate interface {
	eval(row int, data map[int][]parquet.Value) bool
	skipRowGroup(rowGroup parquet.RowGroup) bool
	addColumns(set map[int]struct{})
}

type boundCompare struct {
	col int
	op  CompareOp
	lit parquet.Value
	typ parquet.Type
}

type boundLogic struct {
	op   LogicOp
	args []predicate
}

func bindExpr(schema *parquet.Schema, expr Expr) (predicate, error) {
	switch node := expr.(type) {
	case Compare:
		leaf, err := lookupColumn(schema, node.Column)
		if err != nil {
			return nil, err
		}
		lit, err := literalValue(node.Value, leaf.Node.Type().Kind(), node.Column)
		if err != nil {
			return nil, err
		}
		return &boundCompare{
			col: leaf.ColumnIndex,
			op:  node.Op,
			lit: lit,
			typ: leaf.Node.Type(),
		}, nil
	case Logic:
		bound := &boundLogic{op: node.Op}
		for _, arg := range node.Args {
			sub, err := bindExpr(schema, arg)
			if err != nil {
				return nil, err
			}
			bound.args = append(bound.args, sub)
		}
		return bound, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized predicate node %T", ErrUnsupportedSQL, expr)
	}
}

// literalValue coerces a query literal to the physical type of the
// column it is compared with. Int literals widen to float columns;
// everything else must match.
func literalValue(lit Literal, kind parquet.Kind, column string) (parquet.Value, error) {
	switch lit.Kind {
	case LiteralInt:
		switch kind {
		case parquet.Int32:
			return parquet.Int32Value(int32(lit.Int)), nil
		case parquet.Int64:
			return parquet.Int64Value(lit.Int), nil
		case parquet.Float:
			return parquet.FloatValue(float32(lit.Int)), nil
		case parquet.Double:
			return parquet.DoubleValue(float64(lit.Int)), nil
		}
	case LiteralFloat:
		switch kind {
		case parquet.Float:
			return parquet.FloatValue(float32(lit.Float)), nil
		case parquet.Double:
			return parquet.DoubleValue(lit.Float), nil
		}
	case LiteralString:
		switch kind {
		case parquet.ByteArray, parquet.FixedLenByteArray:
			return parquet.ByteArrayValue([]byte(lit.Str)), nil
		}
	case LiteralBool:
		if kind == parquet.Boolean {
			return parquet.BooleanValue(lit.Bool), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("%w: literal does not match the type of column %q", ErrUnsupportedSQL, column)
}

// Comparisons against NULL rows are false, matching SQL semantics for
// every operator in the subset.
func (c *boundCompare) eval(row int, data map[int][]parquet.Value) bool {
	v := data[c.col][row]
	if v.IsNull() {
		return false
	}
	cmp := c.typ.Compare(v, c.lit)
	switch c.op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// skipRowGroup is conservative: it returns true only when the min/max
// statistics prove no row can match. Null rows never match a
// comparison, so null counts do not affect the decision.
func (c *boundCompare) skipRowGroup(rowGroup parquet.RowGroup) bool {
	chunk, ok := rowGroup.ColumnChunks()[c.col].(*parquet.FileColumnChunk)
	if !ok {
		return false
	}
	min, max, ok := chunk.Bounds()
	if !ok {
		return false
	}
	switch c.op {
	case OpEq:
		return c.typ.Compare(c.lit, min) < 0 || c.typ.Compare(c.lit, max) > 0
	case OpNe:
		return c.typ.Compare(min, max) == 0 && c.typ.Compare(min, c.lit) == 0
	case OpLt:
		return c.typ.Compare(min, c.lit) >= 0
	case OpLe:
		return c.typ.Compare(min, c.lit) > 0
	case OpGt:
		return c.typ.Compare(max, c.lit) <= 0
	case OpGe:
		return c.typ.Compare(max, c.lit) < 0
	default:
		return false
	}
}

func (c *boundCompare) addColumns(set map[int]struct{}) {
	set[c.col] = struct{}{}
}

func (l *boundLogic) eval(row int, data map[int][]parquet.Value) bool {
	if l.op == LogicAnd {
		for _, arg := range l.args {
			if !arg.eval(row, data) {
				return false
			}
		}
		return true
	}
	for _, arg := range l.args {
		if arg.eval(row, data) {
			return true
		}
	}
	return false
}

func (l *boundLogic) skipRowGroup(rowGroup parquet.RowGroup) bool {
	if l.op == LogicAnd {
		for _, arg := range l.args {
			if arg.skipRowGroup(rowGroup) {
				return true
			}
		}
		return false
	}
	for _, arg := range l.args {
		if !arg.skipRowGroup(rowGroup) {
			return false
		}
	}
	return len(l.args) > 0
}

func (l *boundLogic) addColumns(set map[int]struct{}) {
	for _, arg := range l.args {
		arg.addColumns(set)
	}
}
