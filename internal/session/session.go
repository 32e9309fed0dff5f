package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/engine"
	"github.com/XiangpengHao/parquet-viewer/internal/observability"
)

// ErrQueryNotFound marks lookups of query ids the session never issued.
var ErrQueryNotFound = errors.New("session: query not found")

type State string

const (
	StateSubmitted State = "submitted"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Runner abstracts the executor so session tests can fake slow or
// failing queries.
type Runner interface {
	Run(ctx context.Context, table *catalog.Table, plan *engine.Plan, sink engine.Sink) (engine.Stats, error)
}

// Query is one submitted statement and its accumulated result. All
// mutable fields are guarded by mu; Done closes when the query reaches
// a terminal state.
type Query struct {
	ID    string
	SQL   string
	Table string

	mu         sync.Mutex
	state      State
	columns    []string
	rows       [][]any
	truncated  bool
	stats      engine.Stats
	runErr     error
	startedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Status is the externally visible snapshot of a query, shaped for JSON
// responses.
type Status struct {
	ID        string       `json:"id"`
	SQL       string       `json:"sql"`
	Table     string       `json:"table"`
	State     State        `json:"state"`
	Columns   []string     `json:"columns,omitempty"`
	Rows      [][]any      `json:"rows,omitempty"`
	Truncated bool         `json:"truncated,omitempty"`
	Stats     engine.Stats `json:"stats"`
	Error     string       `json:"error,omitempty"`
	ElapsedMS int64        `json:"elapsed_ms"`
}

// Session owns the query lifecycle for one server instance. At most one
// query executes at a time; submitting a new one cancels the previous
// query if it is still running, since the viewer only ever displays the
// latest result.
type Session struct {
	logger  *slog.Logger
	catalog *catalog.Catalog
	runner  Runner
	maxRows int

	mu      sync.Mutex
	queries map[string]*Query
	active  *Query
}

func New(logger *slog.Logger, cat *catalog.Catalog, runner Runner, maxRows int) *Session {
	if maxRows <= 0 {
		maxRows = 10000
	}
	return &Session{
		logger:  logger,
		catalog: cat,
		runner:  runner,
		maxRows: maxRows,
		queries: map[string]*Query{},
	}
}

// Submit parses sql, resolves its table, cancels any still-running
// query, and starts executing in the background. Parse and lookup
// failures surface immediately; execution failures land on the query.
func (s *Session) Submit(ctx context.Context, sql string) (*Query, error) {
	plan, err := engine.Parse(sql)
	if err != nil {
		return nil, err
	}
	table, err := s.catalog.Lookup(plan.Table)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	query := &Query{
		ID:        uuid.NewString(),
		SQL:       sql,
		Table:     table.Name,
		state:     StateSubmitted,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.active != nil {
		s.active.Cancel()
	}
	s.active = query
	s.queries[query.ID] = query
	s.mu.Unlock()

	query.setState(StatePlanning)
	s.logger.InfoContext(ctx, "query submitted",
		slog.String("query_id", query.ID),
		slog.String("table", query.Table),
	)

	go s.execute(runCtx, query, table, plan)
	return query, nil
}

func (s *Session) execute(ctx context.Context, query *Query, table *catalog.Table, plan *engine.Plan) {
	defer close(query.done)

	query.setState(StateExecuting)
	stats, err := s.runner.Run(ctx, table, plan, func(batch engine.Batch) error {
		query.appendBatch(batch, s.maxRows)
		return ctx.Err()
	})
	query.finish(stats, err, ctx)

	status := query.Status()
	observability.ObserveQueryDone(string(status.State), time.Duration(status.ElapsedMS)*time.Millisecond)
	if status.State == StateFailed {
		s.logger.Warn("query failed",
			slog.String("query_id", query.ID),
			slog.String("error", status.Error),
		)
		return
	}
	s.logger.Info("query finished",
		slog.String("query_id", query.ID),
		slog.String("state", string(status.State)),
		slog.Int64("rows_emitted", stats.RowsEmitted),
	)
}

// Get returns the query with the given id.
func (s *Session) Get(id string) (*Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query, ok := s.queries[id]
	if !ok {
		return nil, fmt.Errorf("query %q: %w", id, ErrQueryNotFound)
	}
	return query, nil
}

// Cancel stops the query if it is still running. Cancelling a finished
// query is a no-op; the terminal state never regresses.
func (s *Session) Cancel(id string) error {
	query, err := s.Get(id)
	if err != nil {
		return err
	}
	query.Cancel()
	return nil
}

func (q *Query) Cancel() {
	q.cancel()
}

// Done closes once the query reaches a terminal state.
func (q *Query) Done() <-chan struct{} {
	return q.done
}

func (q *Query) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	elapsed := time.Since(q.startedAt)
	if q.state.Terminal() {
		elapsed = q.finishedAt.Sub(q.startedAt)
	}
	status := Status{
		ID:        q.ID,
		SQL:       q.SQL,
		Table:     q.Table,
		State:     q.state,
		Columns:   q.columns,
		Rows:      q.rows,
		Truncated: q.truncated,
		Stats:     q.stats,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if q.runErr != nil {
		status.Error = q.runErr.Error()
	}
	return status
}

// setState advances the lifecycle. Transitions are forward-only; a
// terminal state sticks.
func (q *Query) setState(state State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.Terminal() {
		return
	}
	q.state = state
}

func (q *Query) appendBatch(batch engine.Batch, maxRows int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.columns = batch.Columns
	room := maxRows - len(q.rows)
	if room <= 0 {
		q.truncated = true
		return
	}
	if len(batch.Rows) > room {
		batch.Rows = batch.Rows[:room]
		q.truncated = true
	}
	q.rows = append(q.rows, batch.Rows...)
}

func (q *Query) finish(stats engine.Stats, err error, ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.Terminal() {
		return
	}
	q.stats = stats
	q.finishedAt = time.Now()
	switch {
	case err == nil:
		q.state = StateCompleted
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		q.state = StateCancelled
	default:
		q.state = StateFailed
		q.runErr = err
	}
}
