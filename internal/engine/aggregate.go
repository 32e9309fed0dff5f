package engine

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// aggState accumulates one aggregate target across row groups.
// col is -1 for count(*).
type aggState struct {
	fn  AggFunc
	col int
	typ parquet.Type

	count    int64
	sumInt   int64
	sumFloat float64
	isFloat  bool
	bound    parquet.Value
	seen     bool
}

func bindAggregate(schema *parquet.Schema, agg Aggregate) (*aggState, error) {
	state := &aggState{fn: agg.Func, col: -1}
	if agg.Column == "" {
		return state, nil
	}

	leaf, err := lookupColumn(schema, agg.Column)
	if err != nil {
		return nil, err
	}
	state.col = leaf.ColumnIndex
	state.typ = leaf.Node.Type()

	kind := state.typ.Kind()
	switch agg.Func {
	case AggCount, AggMin, AggMax:
		// any type
	case AggSum, AggAvg:
		switch kind {
		case parquet.Int32, parquet.Int64:
		case parquet.Float, parquet.Double:
			state.isFloat = true
		default:
			return nil, fmt.Errorf("%w: %s over non-numeric column %q", ErrUnsupportedSQL, agg.Func, agg.Column)
		}
	}
	return state, nil
}

// addRows credits whole rows to a count(*) that needs no column data.
func (s *aggState) addRows(rows int64) {
	s.count += rows
}

func (s *aggState) update(row int, data map[int][]parquet.Value) {
	if s.col < 0 {
		s.count++
		return
	}
	v := data[s.col][row]
	if v.IsNull() {
		return
	}
	s.count++

	switch s.fn {
	case AggSum, AggAvg:
		if s.isFloat {
			s.sumFloat += numeric(v)
		} else if v.Kind() == parquet.Int32 {
			s.sumInt += int64(v.Int32())
		} else {
			s.sumInt += v.Int64()
		}
	case AggMin:
		if !s.seen || s.typ.Compare(v, s.bound) < 0 {
			s.bound = v
			s.seen = true
		}
	case AggMax:
		if !s.seen || s.typ.Compare(v, s.bound) > 0 {
			s.bound = v
			s.seen = true
		}
	}
}

func (s *aggState) result() any {
	switch s.fn {
	case AggCount:
		return s.count
	case AggSum:
		if s.count == 0 {
			return nil
		}
		if s.isFloat {
			return s.sumFloat
		}
		return s.sumInt
	case AggAvg:
		if s.count == 0 {
			return nil
		}
		sum := s.sumFloat
		if !s.isFloat {
			sum = float64(s.sumInt)
		}
		return sum / float64(s.count)
	case AggMin, AggMax:
		if !s.seen {
			return nil
		}
		return valueToGo(s.bound)
	default:
		return nil
	}
}

func numeric(v parquet.Value) float64 {
	switch v.Kind() {
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	case parquet.Float:
		return float64(v.Float())
	default:
		return v.Double()
	}
}
