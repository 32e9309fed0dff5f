package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
)

type eventRow struct {
	ID       int64   `parquet:"id"`
	Name     string  `parquet:"name"`
	Score    float64 `parquet:"score"`
	Active   bool    `parquet:"active"`
	Category *string `parquet:"category,optional"`
}

// fixtureTable registers a nine-row file split into three row groups of
// three rows each, with ids ascending so footer statistics can prune.
func fixtureTable(t *testing.T) *catalog.Table {
	t.Helper()

	names := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi", "ivan"}
	rows := make([]eventRow, len(names))
	for i := range rows {
		rows[i] = eventRow{
			ID:     int64(i),
			Name:   names[i],
			Score:  float64(i) + 0.5,
			Active: i%2 == 0,
		}
		if i%2 == 1 {
			category := "odd"
			rows[i].Category = &category
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[eventRow](buf)
	for start := 0; start < len(rows); start += 3 {
		if _, err := writer.Write(rows[start : start+3]); err != nil {
			t.Fatalf("write rows: %v", err)
		}
		if err := writer.Flush(); err != nil {
			t.Fatalf("flush row group: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	rangeCache, err := cache.New(1<<20, 512)
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	cat := catalog.New(catalog.Config{
		HTTPTimeout:  time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		S3:           fetch.S3Config{Endpoint: "localhost:9000"},
	}, rangeCache, metrics.NewCollector())

	table, err := cat.RegisterBlob(context.Background(), "events.parquet", buf.Bytes())
	if err != nil {
		t.Fatalf("RegisterBlob() error = %v", err)
	}
	return table
}

func testExecutor(batchSize int) *Executor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), batchSize)
}

func runQuery(t *testing.T, exec *Executor, table *catalog.Table, sql string) (Batch, Stats) {
	t.Helper()
	plan, err := Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", sql, err)
	}
	var merged Batch
	stats, err := exec.Run(context.Background(), table, plan, func(batch Batch) error {
		merged.Columns = batch.Columns
		merged.Rows = append(merged.Rows, batch.Rows...)
		return nil
	})
	if err != nil {
		t.Fatalf("Run(%q) error = %v", sql, err)
	}
	return merged, stats
}

func TestSelectStar(t *testing.T) {
	table := fixtureTable(t)
	result, stats := runQuery(t, testExecutor(0), table, "SELECT * FROM events")

	if len(result.Columns) != 5 {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 9 {
		t.Fatalf("got %d rows", len(result.Rows))
	}
	if stats.RowsScanned != 9 || stats.RowGroupsTotal != 3 || stats.RowGroupsPruned != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestProjectionAndFilter(t *testing.T) {
	table := fixtureTable(t)
	result, _ := runQuery(t, testExecutor(0), table,
		"SELECT name FROM events WHERE id >= 3 AND id < 6")

	if len(result.Columns) != 1 || result.Columns[0] != "name" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	want := []string{"dave", "erin", "frank"}
	if len(result.Rows) != len(want) {
		t.Fatalf("rows = %v", result.Rows)
	}
	for i, row := range result.Rows {
		if row[0] != want[i] {
			t.Fatalf("Rows[%d] = %v, want %q", i, row, want[i])
		}
	}
}

func TestOrFilter(t *testing.T) {
	table := fixtureTable(t)
	result, _ := runQuery(t, testExecutor(0), table,
		"SELECT id FROM events WHERE name = 'alice' OR score > 7.0")

	if len(result.Rows) != 3 {
		t.Fatalf("rows = %v", result.Rows)
	}
	if result.Rows[0][0] != int64(0) || result.Rows[1][0] != int64(7) || result.Rows[2][0] != int64(8) {
		t.Fatalf("rows = %v", result.Rows)
	}
}

func TestRowGroupPruning(t *testing.T) {
	table := fixtureTable(t)
	result, stats := runQuery(t, testExecutor(0), table,
		"SELECT name FROM events WHERE id = 7")

	if len(result.Rows) != 1 || result.Rows[0][0] != "heidi" {
		t.Fatalf("rows = %v", result.Rows)
	}
	if stats.RowGroupsPruned != 2 {
		t.Fatalf("RowGroupsPruned = %d", stats.RowGroupsPruned)
	}
	if stats.RowsScanned != 3 {
		t.Fatalf("RowsScanned = %d", stats.RowsScanned)
	}
}

func TestEmptyResultStillDeliversHeader(t *testing.T) {
	table := fixtureTable(t)
	result, stats := runQuery(t, testExecutor(0), table,
		"SELECT name FROM events WHERE id = 100")

	if len(result.Columns) != 1 || len(result.Rows) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if stats.RowGroupsPruned != 3 || stats.RowsScanned != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAggregates(t *testing.T) {
	table := fixtureTable(t)
	result, _ := runQuery(t, testExecutor(0), table,
		"SELECT count(*), sum(score), min(id), max(id), avg(score), count(category) FROM events")

	if len(result.Rows) != 1 {
		t.Fatalf("rows = %v", result.Rows)
	}
	row := result.Rows[0]
	if row[0] != int64(9) {
		t.Fatalf("count(*) = %v", row[0])
	}
	if math.Abs(row[1].(float64)-40.5) > 1e-9 {
		t.Fatalf("sum(score) = %v", row[1])
	}
	if row[2] != int64(0) || row[3] != int64(8) {
		t.Fatalf("min/max = %v %v", row[2], row[3])
	}
	if math.Abs(row[4].(float64)-4.5) > 1e-9 {
		t.Fatalf("avg(score) = %v", row[4])
	}
	if row[5] != int64(4) {
		t.Fatalf("count(category) = %v, want nulls skipped", row[5])
	}
}

func TestCountStarNeedsNoColumnReads(t *testing.T) {
	table := fixtureTable(t)
	result, _ := runQuery(t, testExecutor(0), table, "SELECT count(*) FROM events")

	if len(result.Rows) != 1 || result.Rows[0][0] != int64(9) {
		t.Fatalf("rows = %v", result.Rows)
	}
}

func TestAggregateWithFilter(t *testing.T) {
	table := fixtureTable(t)
	result, _ := runQuery(t, testExecutor(0), table,
		"SELECT count(*) FROM events WHERE active = true")

	if result.Rows[0][0] != int64(5) {
		t.Fatalf("count = %v", result.Rows[0][0])
	}
}

func TestOrderByDescWithLimit(t *testing.T) {
	table := fixtureTable(t)
	result, _ := runQuery(t, testExecutor(0), table,
		"SELECT name FROM events ORDER BY score DESC LIMIT 2")

	if len(result.Rows) != 2 || result.Rows[0][0] != "ivan" || result.Rows[1][0] != "heidi" {
		t.Fatalf("rows = %v", result.Rows)
	}
}

func TestLimitStopsEarly(t *testing.T) {
	table := fixtureTable(t)
	result, stats := runQuery(t, testExecutor(0), table, "SELECT id FROM events LIMIT 4")

	if len(result.Rows) != 4 {
		t.Fatalf("rows = %v", result.Rows)
	}
	if stats.RowsScanned != 6 {
		t.Fatalf("RowsScanned = %d; the third row group must not be read", stats.RowsScanned)
	}
	if stats.RowsEmitted != 4 {
		t.Fatalf("RowsEmitted = %d", stats.RowsEmitted)
	}
}

func TestBatchSizeSplitsResults(t *testing.T) {
	table := fixtureTable(t)
	plan, err := Parse("SELECT id FROM events")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var batches int
	var rows int
	_, err = testExecutor(2).Run(context.Background(), table, plan, func(batch Batch) error {
		batches++
		rows += len(batch.Rows)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rows != 9 {
		t.Fatalf("rows = %d", rows)
	}
	if batches < 4 {
		t.Fatalf("batches = %d, want the result split by batch size", batches)
	}
}

func TestUnknownColumn(t *testing.T) {
	table := fixtureTable(t)
	plan, err := Parse("SELECT missing FROM events")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	_, err = testExecutor(0).Run(context.Background(), table, plan, func(Batch) error { return nil })
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("Run() error = %v, want ErrUnknownColumn", err)
	}
}

func TestLiteralTypeMismatch(t *testing.T) {
	table := fixtureTable(t)
	plan, err := Parse("SELECT id FROM events WHERE name = 5")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	_, err = testExecutor(0).Run(context.Background(), table, plan, func(Batch) error { return nil })
	if !errors.Is(err, ErrUnsupportedSQL) {
		t.Fatalf("Run() error = %v, want ErrUnsupportedSQL", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	table := fixtureTable(t)
	plan, err := Parse("SELECT id FROM events")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = testExecutor(0).Run(ctx, table, plan, func(Batch) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestSinkErrorAborts(t *testing.T) {
	table := fixtureTable(t)
	plan, err := Parse("SELECT id FROM events")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	boom := errors.New("boom")
	_, err = testExecutor(2).Run(context.Background(), table, plan, func(Batch) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want sink error", err)
	}
}
