package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/engine"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
)

type fixtureRow struct {
	ID int64 `parquet:"id"`
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
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

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[fixtureRow](buf)
	if _, err := writer.Write([]fixtureRow{{ID: 1}, {ID: 2}}); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if _, err := cat.RegisterBlob(context.Background(), "events.parquet", buf.Bytes()); err != nil {
		t.Fatalf("RegisterBlob() error = %v", err)
	}
	return cat
}

type fakeRunner struct {
	batches    []engine.Batch
	err        error
	blockOnCtx bool
	started    chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, _ *catalog.Table, _ *engine.Plan, sink engine.Sink) (engine.Stats, error) {
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.blockOnCtx {
		<-ctx.Done()
		return engine.Stats{}, ctx.Err()
	}
	var emitted int64
	for _, batch := range r.batches {
		if err := sink(batch); err != nil {
			return engine.Stats{}, err
		}
		emitted += int64(len(batch.Rows))
	}
	return engine.Stats{RowsEmitted: emitted}, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitTerminal(t *testing.T, query *Query) Status {
	t.Helper()
	select {
	case <-query.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("query did not reach a terminal state")
	}
	return query.Status()
}

func TestSubmitRunsToCompletion(t *testing.T) {
	runner := &fakeRunner{batches: []engine.Batch{
		{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}},
		{Columns: []string{"id"}, Rows: [][]any{{int64(2)}}},
	}}
	s := New(testLogger(), testCatalog(t), runner, 0)

	query, err := s.Submit(context.Background(), "SELECT id FROM events")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	status := waitTerminal(t, query)
	if status.State != StateCompleted {
		t.Fatalf("State = %s, error = %s", status.State, status.Error)
	}
	if len(status.Rows) != 2 || status.Columns[0] != "id" {
		t.Fatalf("status = %+v", status)
	}
	if status.Stats.RowsEmitted != 2 {
		t.Fatalf("RowsEmitted = %d", status.Stats.RowsEmitted)
	}

	got, err := s.Get(query.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != query {
		t.Fatal("Get() returned a different query")
	}
}

func TestSubmitRejectsBadSQL(t *testing.T) {
	s := New(testLogger(), testCatalog(t), &fakeRunner{}, 0)
	if _, err := s.Submit(context.Background(), "SELECT a FROM t GROUP BY a"); !errors.Is(err, engine.ErrUnsupportedSQL) {
		t.Fatalf("Submit() error = %v, want ErrUnsupportedSQL", err)
	}
}

func TestSubmitRejectsUnknownTable(t *testing.T) {
	s := New(testLogger(), testCatalog(t), &fakeRunner{}, 0)
	if _, err := s.Submit(context.Background(), "SELECT id FROM nowhere"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Submit() error = %v, want catalog.ErrNotFound", err)
	}
}

func TestSubmitCancelsPreviousQuery(t *testing.T) {
	runner := &fakeRunner{blockOnCtx: true, started: make(chan struct{}, 4)}
	s := New(testLogger(), testCatalog(t), runner, 0)

	first, err := s.Submit(context.Background(), "SELECT id FROM events")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-runner.started

	second, err := s.Submit(context.Background(), "SELECT id FROM events")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if status := waitTerminal(t, first); status.State != StateCancelled {
		t.Fatalf("first query State = %s", status.State)
	}

	if err := s.Cancel(second.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if status := waitTerminal(t, second); status.State != StateCancelled {
		t.Fatalf("second query State = %s", status.State)
	}
}

func TestCancelAfterCompletionKeepsState(t *testing.T) {
	s := New(testLogger(), testCatalog(t), &fakeRunner{}, 0)
	query, err := s.Submit(context.Background(), "SELECT id FROM events")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if status := waitTerminal(t, query); status.State != StateCompleted {
		t.Fatalf("State = %s", status.State)
	}
	if err := s.Cancel(query.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if status := query.Status(); status.State != StateCompleted {
		t.Fatalf("State after Cancel = %s", status.State)
	}
}

func TestFailedQuery(t *testing.T) {
	runner := &fakeRunner{err: errors.New("storage exploded")}
	s := New(testLogger(), testCatalog(t), runner, 0)
	query, err := s.Submit(context.Background(), "SELECT id FROM events")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	status := waitTerminal(t, query)
	if status.State != StateFailed || status.Error != "storage exploded" {
		t.Fatalf("status = %+v", status)
	}
}

func TestResultTruncation(t *testing.T) {
	rows := make([][]any, 5)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	runner := &fakeRunner{batches: []engine.Batch{{Columns: []string{"id"}, Rows: rows}}}
	s := New(testLogger(), testCatalog(t), runner, 3)

	query, err := s.Submit(context.Background(), "SELECT id FROM events")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	status := waitTerminal(t, query)
	if len(status.Rows) != 3 || !status.Truncated {
		t.Fatalf("status = %+v", status)
	}
}

func TestGetUnknownQuery(t *testing.T) {
	s := New(testLogger(), testCatalog(t), &fakeRunner{}, 0)
	if _, err := s.Get("nope"); !errors.Is(err, ErrQueryNotFound) {
		t.Fatalf("Get() error = %v, want ErrQueryNotFound", err)
	}
}
