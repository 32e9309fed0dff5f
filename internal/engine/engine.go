package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
)

// ErrUnknownColumn marks references to columns the file does not have.
var ErrUnknownColumn = errors.New("engine: unknown column")

const defaultBatchSize = 1024

// Batch is one chunk of result rows. Every batch of a query carries the
// same column header.
type Batch struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Stats describes how much work a query did against the file.
type Stats struct {
	RowsScanned     int64 `json:"rows_scanned"`
	RowsEmitted     int64 `json:"rows_emitted"`
	RowGroupsTotal  int   `json:"row_groups_total"`
	RowGroupsPruned int   `json:"row_groups_pruned"`
}

// Sink receives result batches as they are produced. Returning an error
// aborts the query.
type Sink func(Batch) error

// Executor evaluates plans against registered tables. It reads only the
// column chunks a plan touches and skips row groups whose footer
// statistics exclude the predicate.
type Executor struct {
	logger    *slog.Logger
	batchSize int
}

func New(logger *slog.Logger, batchSize int) *Executor {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Executor{logger: logger, batchSize: batchSize}
}

// Run executes plan against table, streaming batches into sink. The
// sink is always called at least once so the caller learns the column
// header even for empty results. Reads issued on behalf of the query
// carry ctx and stop at batch boundaries once ctx is cancelled.
func (e *Executor) Run(ctx context.Context, table *catalog.Table, plan *Plan, sink Sink) (Stats, error) {
	adapter := table.Adapter.WithContext(ctx)
	file, err := parquet.OpenFile(adapter, adapter.Size(),
		parquet.SkipPageIndex(true),
		parquet.SkipBloomFilters(true),
	)
	if err != nil {
		return Stats{}, fmt.Errorf("reopen %q: %w", table.Name, err)
	}

	q, err := bindPlan(file, plan, e.batchSize)
	if err != nil {
		return Stats{}, err
	}

	stats, err := q.run(ctx, sink)
	if err != nil {
		return stats, err
	}
	e.logger.InfoContext(ctx, "query executed",
		slog.String("table", table.Name),
		slog.Int64("rows_scanned", stats.RowsScanned),
		slog.Int64("rows_emitted", stats.RowsEmitted),
		slog.Int("row_groups_total", stats.RowGroupsTotal),
		slog.Int("row_groups_pruned", stats.RowGroupsPruned),
	)
	return stats, nil
}

// query is a plan bound to one file: column names resolved to leaf
// indexes and literals coerced to the column physical types.
type query struct {
	file      *parquet.File
	batchSize int

	header  []string
	outCols []int
	sortCol int
	sortTyp parquet.Type
	desc    bool
	aggs    []*aggState
	filter  predicate
	needed  []int
	limit   int64
}

func bindPlan(file *parquet.File, plan *Plan, batchSize int) (*query, error) {
	q := &query{
		file:      file,
		batchSize: batchSize,
		sortCol:   -1,
		limit:     plan.Limit,
	}
	needed := map[int]struct{}{}

	schema := file.Schema()
	if plan.Star {
		for i, path := range schema.Columns() {
			q.header = append(q.header, strings.Join(path, "."))
			q.outCols = append(q.outCols, i)
			needed[i] = struct{}{}
		}
	}
	for _, name := range plan.Columns {
		leaf, err := lookupColumn(schema, name)
		if err != nil {
			return nil, err
		}
		q.header = append(q.header, name)
		q.outCols = append(q.outCols, leaf.ColumnIndex)
		needed[leaf.ColumnIndex] = struct{}{}
	}
	for _, agg := range plan.Aggregates {
		state, err := bindAggregate(schema, agg)
		if err != nil {
			return nil, err
		}
		q.header = append(q.header, agg.Output)
		q.aggs = append(q.aggs, state)
		if state.col >= 0 {
			needed[state.col] = struct{}{}
		}
	}

	if plan.Filter != nil {
		filter, err := bindExpr(schema, plan.Filter)
		if err != nil {
			return nil, err
		}
		q.filter = filter
		filter.addColumns(needed)
	}

	if plan.Sort != nil {
		leaf, err := lookupColumn(schema, plan.Sort.Column)
		if err != nil {
			return nil, err
		}
		q.sortCol = leaf.ColumnIndex
		q.sortTyp = leaf.Node.Type()
		q.desc = plan.Sort.Descending
		needed[leaf.ColumnIndex] = struct{}{}
	}

	for col := range needed {
		q.needed = append(q.needed, col)
	}
	sort.Ints(q.needed)
	return q, nil
}

func lookupColumn(schema *parquet.Schema, name string) (parquet.LeafColumn, error) {
	leaf, ok := schema.Lookup(strings.Split(name, ".")...)
	if !ok {
		return parquet.LeafColumn{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	if leaf.Node.Repeated() {
		return parquet.LeafColumn{}, fmt.Errorf("%w: repeated column %q", ErrUnsupportedSQL, name)
	}
	return leaf, nil
}

func (q *query) run(ctx context.Context, sink Sink) (Stats, error) {
	stats := Stats{}
	rowGroups := q.file.RowGroups()
	stats.RowGroupsTotal = len(rowGroups)

	var (
		pending   Batch
		sortKeys  []parquet.Value
		emitted   int64
		delivered bool
	)
	pending.Columns = q.header

	flush := func() error {
		if len(pending.Rows) == 0 && delivered {
			return nil
		}
		batch := Batch{Columns: q.header, Rows: pending.Rows}
		pending.Rows = nil
		delivered = true
		return sink(batch)
	}

	for _, rowGroup := range rowGroups {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if q.limit >= 0 && q.sortCol < 0 && len(q.aggs) == 0 && emitted >= q.limit {
			break
		}
		if q.filter != nil && q.filter.skipRowGroup(rowGroup) {
			stats.RowGroupsPruned++
			continue
		}

		// count(*) over everything needs no column data at all.
		if len(q.needed) == 0 {
			rows := rowGroup.NumRows()
			stats.RowsScanned += rows
			for _, agg := range q.aggs {
				agg.addRows(rows)
			}
			continue
		}

		data, rows, err := readColumns(rowGroup, q.needed)
		if err != nil {
			return stats, err
		}
		stats.RowsScanned += rows

		for row := int64(0); row < rows; row++ {
			if q.filter != nil && !q.filter.eval(int(row), data) {
				continue
			}
			if len(q.aggs) > 0 {
				for _, agg := range q.aggs {
					agg.update(int(row), data)
				}
				continue
			}

			out := make([]any, len(q.outCols))
			for i, col := range q.outCols {
				out[i] = valueToGo(data[col][row])
			}
			pending.Rows = append(pending.Rows, out)
			if q.sortCol >= 0 {
				sortKeys = append(sortKeys, data[q.sortCol][row])
				continue
			}
			emitted++
			if q.limit >= 0 && emitted >= q.limit {
				break
			}
			if len(pending.Rows) >= q.batchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}
	}

	switch {
	case len(q.aggs) > 0:
		out := make([]any, len(q.aggs))
		for i, agg := range q.aggs {
			out[i] = agg.result()
		}
		pending.Rows = [][]any{out}
		emitted = 1
	case q.sortCol >= 0:
		q.sortRows(pending.Rows, sortKeys)
		if q.limit >= 0 && int64(len(pending.Rows)) > q.limit {
			pending.Rows = pending.Rows[:q.limit]
		}
		emitted = int64(len(pending.Rows))
	}

	// Deliver whatever is buffered, splitting sorted results into
	// batch-sized chunks, and always at least the header.
	for len(pending.Rows) > q.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		head := Batch{Columns: q.header, Rows: pending.Rows[:q.batchSize]}
		pending.Rows = pending.Rows[q.batchSize:]
		delivered = true
		if err := sink(head); err != nil {
			return stats, err
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	stats.RowsEmitted = emitted
	return stats, nil
}

// sortRows reorders rows by their parallel key slice. Sorting an index
// permutation keeps rows and keys consistent with each other.
func (q *query) sortRows(rows [][]any, keys []parquet.Value) {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		c := compareKeys(q.sortTyp, keys[order[i]], keys[order[j]])
		if q.desc {
			return c > 0
		}
		return c < 0
	})
	sorted := make([][]any, len(rows))
	for i, j := range order {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func compareKeys(typ parquet.Type, a, b parquet.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1 // nulls sort last
	case b.IsNull():
		return -1
	}
	return typ.Compare(a, b)
}

// readColumns materializes the requested leaf columns of one row group.
// Byte array values are cloned so they outlive the released pages.
func readColumns(rowGroup parquet.RowGroup, needed []int) (map[int][]parquet.Value, int64, error) {
	chunks := rowGroup.ColumnChunks()
	data := make(map[int][]parquet.Value, len(needed))
	for _, col := range needed {
		values, err := readChunk(chunks[col])
		if err != nil {
			return nil, 0, fmt.Errorf("read column %d: %w", col, err)
		}
		if int64(len(values)) != rowGroup.NumRows() {
			return nil, 0, fmt.Errorf("column %d: %d values for %d rows", col, len(values), rowGroup.NumRows())
		}
		data[col] = values
	}
	return data, rowGroup.NumRows(), nil
}

func readChunk(chunk parquet.ColumnChunk) ([]parquet.Value, error) {
	pages := chunk.Pages()
	defer pages.Close()

	out := make([]parquet.Value, 0, chunk.NumValues())
	for {
		page, err := pages.ReadPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		values := make([]parquet.Value, page.NumValues())
		n, err := page.Values().ReadValues(values)
		if err != nil && err != io.EOF {
			parquet.Release(page)
			return nil, err
		}
		for _, v := range values[:n] {
			out = append(out, v.Clone())
		}
		parquet.Release(page)
	}
	return out, nil
}

func valueToGo(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return v.Int32()
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return v.Float()
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return v.String()
	default:
		return v.String()
	}
}
