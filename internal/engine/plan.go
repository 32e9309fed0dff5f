package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrUnsupportedSQL marks statements that parse as valid PostgreSQL but
// use features outside the single-table SELECT subset.
var ErrUnsupportedSQL = errors.New("engine: unsupported SQL")

type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "<>"
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

type LiteralKind int

const (
	LiteralInt LiteralKind = iota
	LiteralFloat
	LiteralString
	LiteralBool
)

// Literal is a typed constant from the query text. The executor coerces
// it to the parquet physical type of the column it is compared against.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

// Expr is a predicate tree node: either a Compare leaf or a Logic
// combinator over sub-expressions.
type Expr interface {
	isExpr()
}

type Compare struct {
	Column string
	Op     CompareOp
	Value  Literal
}

type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
)

type Logic struct {
	Op   LogicOp
	Args []Expr
}

func (Compare) isExpr() {}
func (Logic) isExpr()   {}

type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggAvg   AggFunc = "avg"
)

// Aggregate is one aggregate target. Column is empty for count(*).
type Aggregate struct {
	Func   AggFunc
	Column string
	Output string
}

type SortKey struct {
	Column     string
	Descending bool
}

// Plan is the bound form of a query: a single-table SELECT with
// projection or aggregates, an optional predicate, an optional single
// sort key, and an optional limit.
type Plan struct {
	Table      string
	Star       bool
	Columns    []string
	Aggregates []Aggregate
	Filter     Expr
	Sort       *SortKey
	Limit      int64
}

// Parse turns a SQL string into a Plan. The accepted subset is a
// single-table SELECT: plain or aliased column targets or aggregate
// targets (never mixed), WHERE with =, <>, <, <=, >, >= combined by
// AND/OR, ORDER BY one column, and LIMIT.
func Parse(sql string) (*Plan, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse SQL: %w", err)
	}
	if len(result.Stmts) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one statement, got %d", ErrUnsupportedSQL, len(result.Stmts))
	}
	stmt := result.Stmts[0].Stmt.GetSelectStmt()
	if stmt == nil {
		return nil, fmt.Errorf("%w: only SELECT statements are supported", ErrUnsupportedSQL)
	}
	return planSelect(stmt)
}

func planSelect(stmt *pg_query.SelectStmt) (*Plan, error) {
	switch {
	case stmt.Op != pg_query.SetOperation_SETOP_NONE:
		return nil, fmt.Errorf("%w: UNION/INTERSECT/EXCEPT", ErrUnsupportedSQL)
	case stmt.WithClause != nil:
		return nil, fmt.Errorf("%w: WITH clauses", ErrUnsupportedSQL)
	case len(stmt.GroupClause) > 0:
		return nil, fmt.Errorf("%w: GROUP BY", ErrUnsupportedSQL)
	case stmt.HavingClause != nil:
		return nil, fmt.Errorf("%w: HAVING", ErrUnsupportedSQL)
	case len(stmt.DistinctClause) > 0:
		return nil, fmt.Errorf("%w: DISTINCT", ErrUnsupportedSQL)
	case len(stmt.WindowClause) > 0:
		return nil, fmt.Errorf("%w: window functions", ErrUnsupportedSQL)
	case stmt.LimitOffset != nil:
		return nil, fmt.Errorf("%w: OFFSET", ErrUnsupportedSQL)
	}

	plan := &Plan{Limit: -1}

	if len(stmt.FromClause) != 1 {
		return nil, fmt.Errorf("%w: queries must read exactly one table", ErrUnsupportedSQL)
	}
	rangeVar := stmt.FromClause[0].GetRangeVar()
	if rangeVar == nil {
		return nil, fmt.Errorf("%w: joins and subqueries in FROM", ErrUnsupportedSQL)
	}
	plan.Table = rangeVar.Relname

	for _, target := range stmt.TargetList {
		resTarget := target.GetResTarget()
		if resTarget == nil || resTarget.Val == nil {
			return nil, fmt.Errorf("%w: unrecognized select target", ErrUnsupportedSQL)
		}
		if err := planTarget(plan, resTarget); err != nil {
			return nil, err
		}
	}
	if plan.Star && (len(plan.Columns) > 0 || len(plan.Aggregates) > 0) {
		return nil, fmt.Errorf("%w: * cannot be combined with other targets", ErrUnsupportedSQL)
	}
	if len(plan.Columns) > 0 && len(plan.Aggregates) > 0 {
		return nil, fmt.Errorf("%w: mixing columns and aggregates requires GROUP BY", ErrUnsupportedSQL)
	}
	if !plan.Star && len(plan.Columns) == 0 && len(plan.Aggregates) == 0 {
		return nil, fmt.Errorf("%w: empty select list", ErrUnsupportedSQL)
	}

	if stmt.WhereClause != nil {
		filter, err := planExpr(stmt.WhereClause)
		if err != nil {
			return nil, err
		}
		plan.Filter = filter
	}

	if len(stmt.SortClause) > 0 {
		if len(stmt.SortClause) > 1 {
			return nil, fmt.Errorf("%w: ORDER BY supports a single column", ErrUnsupportedSQL)
		}
		if len(plan.Aggregates) > 0 {
			return nil, fmt.Errorf("%w: ORDER BY over an aggregate result", ErrUnsupportedSQL)
		}
		sortBy := stmt.SortClause[0].GetSortBy()
		if sortBy == nil {
			return nil, fmt.Errorf("%w: unrecognized ORDER BY clause", ErrUnsupportedSQL)
		}
		column, err := columnRefName(sortBy.Node.GetColumnRef())
		if err != nil {
			return nil, err
		}
		plan.Sort = &SortKey{
			Column:     column,
			Descending: sortBy.SortbyDir == pg_query.SortByDir_SORTBY_DESC,
		}
	}

	if stmt.LimitCount != nil {
		aConst := stmt.LimitCount.GetAConst()
		if aConst == nil || aConst.GetIval() == nil {
			return nil, fmt.Errorf("%w: LIMIT must be an integer literal", ErrUnsupportedSQL)
		}
		limit := int64(aConst.GetIval().Ival)
		if limit < 0 {
			return nil, fmt.Errorf("%w: negative LIMIT", ErrUnsupportedSQL)
		}
		plan.Limit = limit
	}

	return plan, nil
}

func planTarget(plan *Plan, resTarget *pg_query.ResTarget) error {
	if columnRef := resTarget.Val.GetColumnRef(); columnRef != nil {
		if len(columnRef.Fields) == 1 && columnRef.Fields[0].GetAStar() != nil {
			plan.Star = true
			return nil
		}
		column, err := columnRefName(columnRef)
		if err != nil {
			return err
		}
		plan.Columns = append(plan.Columns, column)
		return nil
	}

	if funcCall := resTarget.Val.GetFuncCall(); funcCall != nil {
		agg, err := planAggregate(funcCall, resTarget.Name)
		if err != nil {
			return err
		}
		plan.Aggregates = append(plan.Aggregates, agg)
		return nil
	}

	return fmt.Errorf("%w: select targets must be columns, *, or aggregate calls", ErrUnsupportedSQL)
}

func planAggregate(funcCall *pg_query.FuncCall, alias string) (Aggregate, error) {
	if len(funcCall.Funcname) == 0 {
		return Aggregate{}, fmt.Errorf("%w: unnamed function call", ErrUnsupportedSQL)
	}
	name := strings.ToLower(funcCall.Funcname[len(funcCall.Funcname)-1].GetString_().GetSval())

	var fn AggFunc
	switch name {
	case "count":
		fn = AggCount
	case "sum":
		fn = AggSum
	case "min":
		fn = AggMin
	case "max":
		fn = AggMax
	case "avg":
		fn = AggAvg
	default:
		return Aggregate{}, fmt.Errorf("%w: function %q", ErrUnsupportedSQL, name)
	}

	agg := Aggregate{Func: fn}
	switch {
	case funcCall.AggStar:
		if fn != AggCount {
			return Aggregate{}, fmt.Errorf("%w: %s(*)", ErrUnsupportedSQL, name)
		}
	case len(funcCall.Args) == 1:
		column, err := columnRefName(funcCall.Args[0].GetColumnRef())
		if err != nil {
			return Aggregate{}, err
		}
		agg.Column = column
	default:
		return Aggregate{}, fmt.Errorf("%w: %s takes exactly one column argument", ErrUnsupportedSQL, name)
	}

	agg.Output = alias
	if agg.Output == "" {
		if funcCall.AggStar {
			agg.Output = string(fn) + "(*)"
		} else {
			agg.Output = string(fn) + "(" + agg.Column + ")"
		}
	}
	return agg, nil
}

func planExpr(node *pg_query.Node) (Expr, error) {
	if boolExpr := node.GetBoolExpr(); boolExpr != nil {
		var op LogicOp
		switch boolExpr.Boolop {
		case pg_query.BoolExprType_AND_EXPR:
			op = LogicAnd
		case pg_query.BoolExprType_OR_EXPR:
			op = LogicOr
		default:
			return nil, fmt.Errorf("%w: NOT expressions", ErrUnsupportedSQL)
		}
		args := make([]Expr, 0, len(boolExpr.Args))
		for _, arg := range boolExpr.Args {
			sub, err := planExpr(arg)
			if err != nil {
				return nil, err
			}
			args = append(args, sub)
		}
		return Logic{Op: op, Args: args}, nil
	}

	aExpr := node.GetAExpr()
	if aExpr == nil || aExpr.Kind != pg_query.A_Expr_Kind_AEXPR_OP {
		return nil, fmt.Errorf("%w: WHERE supports comparisons combined by AND/OR", ErrUnsupportedSQL)
	}
	if len(aExpr.Name) == 0 {
		return nil, fmt.Errorf("%w: operator-less comparison", ErrUnsupportedSQL)
	}
	op, err := compareOp(aExpr.Name[0].GetString_().GetSval())
	if err != nil {
		return nil, err
	}

	// Accept both "col op literal" and "literal op col"; the latter
	// flips the operator so the column always sits on the left.
	if columnRef := aExpr.Lexpr.GetColumnRef(); columnRef != nil {
		column, err := columnRefName(columnRef)
		if err != nil {
			return nil, err
		}
		lit, err := constLiteral(aExpr.Rexpr.GetAConst())
		if err != nil {
			return nil, err
		}
		return Compare{Column: column, Op: op, Value: lit}, nil
	}
	if columnRef := aExpr.Rexpr.GetColumnRef(); columnRef != nil {
		column, err := columnRefName(columnRef)
		if err != nil {
			return nil, err
		}
		lit, err := constLiteral(aExpr.Lexpr.GetAConst())
		if err != nil {
			return nil, err
		}
		return Compare{Column: column, Op: flipOp(op), Value: lit}, nil
	}
	return nil, fmt.Errorf("%w: comparisons must pair a column with a literal", ErrUnsupportedSQL)
}

func compareOp(name string) (CompareOp, error) {
	switch name {
	case "=":
		return OpEq, nil
	case "<>", "!=":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	default:
		return "", fmt.Errorf("%w: operator %q", ErrUnsupportedSQL, name)
	}
}

func flipOp(op CompareOp) CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op
	}
}

func constLiteral(aConst *pg_query.A_Const) (Literal, error) {
	if aConst == nil {
		return Literal{}, fmt.Errorf("%w: comparison against a non-literal expression", ErrUnsupportedSQL)
	}
	if aConst.Isnull {
		return Literal{}, fmt.Errorf("%w: NULL comparisons", ErrUnsupportedSQL)
	}
	switch {
	case aConst.GetIval() != nil:
		return Literal{Kind: LiteralInt, Int: int64(aConst.GetIval().Ival)}, nil
	case aConst.GetFval() != nil:
		f, err := strconv.ParseFloat(aConst.GetFval().Fval, 64)
		if err != nil {
			return Literal{}, fmt.Errorf("%w: numeric literal %q", ErrUnsupportedSQL, aConst.GetFval().Fval)
		}
		return Literal{Kind: LiteralFloat, Float: f}, nil
	case aConst.GetSval() != nil:
		return Literal{Kind: LiteralString, Str: aConst.GetSval().Sval}, nil
	case aConst.GetBoolval() != nil:
		return Literal{Kind: LiteralBool, Bool: aConst.GetBoolval().Boolval}, nil
	default:
		return Literal{}, fmt.Errorf("%w: unsupported literal type", ErrUnsupportedSQL)
	}
}

func columnRefName(columnRef *pg_query.ColumnRef) (string, error) {
	if columnRef == nil {
		return "", fmt.Errorf("%w: expected a column reference", ErrUnsupportedSQL)
	}
	// Qualified names keep only the column part; a single registered
	// table makes the qualifier redundant.
	last := columnRef.Fields[len(columnRef.Fields)-1]
	str := last.GetString_()
	if str == nil {
		return "", fmt.Errorf("%w: expected a plain column name", ErrUnsupportedSQL)
	}
	return str.Sval, nil
}
