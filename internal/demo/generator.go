package demo

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Event is a synthetic commerce event used to produce sample Parquet
// files for trying out the viewer without real data.
type Event struct {
	EventID    string  `parquet:"event_id"`
	UserID     string  `parquet:"user_id"`
	EventType  string  `parquet:"event_type"`
	Amount     float64 `parquet:"amount"`
	Country    string  `parquet:"country"`
	Device     string  `parquet:"device"`
	OccurredAt int64   `parquet:"occurred_at,timestamp(millisecond)"`
}

// Generator produces a deterministic stream of events. The same seed
// always yields the same file, which keeps demo walkthroughs stable.
type Generator struct {
	rnd             *rand.Rand
	userCardinality int
	sequence        int64
	now             time.Time
}

// NewGenerator builds a generator seeded for reproducible output.
func NewGenerator(seed int64, userCardinality int) *Generator {
	if userCardinality <= 0 {
		userCardinality = 500
	}
	return &Generator{
		rnd:             rand.New(rand.NewSource(seed)),
		userCardinality: userCardinality,
		now:             time.Unix(1700000000, 0).UTC(),
	}
}

// Next returns one synthetic event and advances the stream.
func (g *Generator) Next() Event {
	g.sequence++
	eventType := g.pickEventType()
	return Event{
		EventID:    fmt.Sprintf("evt-%012d", g.sequence),
		UserID:     fmt.Sprintf("user-%05d", g.rnd.Intn(g.userCardinality)),
		EventType:  eventType,
		Amount:     g.pickAmount(eventType),
		Country:    pickOne(g.rnd, countries),
		Device:     pickOne(g.rnd, devices),
		OccurredAt: g.now.Add(time.Duration(g.sequence) * time.Second).UnixMilli(),
	}
}

func (g *Generator) pickEventType() string {
	roll := g.rnd.Float64()
	switch {
	case roll < 0.55:
		return "page_view"
	case roll < 0.75:
		return "search"
	case roll < 0.88:
		return "add_to_cart"
	case roll < 0.95:
		return "checkout"
	default:
		return "purchase"
	}
}

func (g *Generator) pickAmount(eventType string) float64 {
	switch eventType {
	case "add_to_cart":
		return round2(5 + g.rnd.Float64()*120)
	case "checkout", "purchase":
		return round2(10 + g.rnd.Float64()*240)
	default:
		return 0
	}
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}

var countries = []string{"US", "DE", "GB", "FR", "JP", "BR", "IN", "CA"}

var devices = []string{"web", "ios", "android"}

func pickOne(rnd *rand.Rand, options []string) string {
	return options[rnd.Intn(len(options))]
}

// WriteSample writes rows synthetic events to w as a Parquet file,
// cutting a row group every rowsPerGroup rows so the result exercises
// row group pruning.
func WriteSample(w io.Writer, seed int64, rows, rowsPerGroup int) error {
	if rows <= 0 {
		return fmt.Errorf("demo: rows must be positive, got %d", rows)
	}
	if rowsPerGroup <= 0 {
		rowsPerGroup = rows
	}
	gen := NewGenerator(seed, 500)
	writer := parquet.NewGenericWriter[Event](w)
	for i := 0; i < rows; i++ {
		if _, err := writer.Write([]Event{gen.Next()}); err != nil {
			return fmt.Errorf("demo: write event: %w", err)
		}
		if (i+1)%rowsPerGroup == 0 && i+1 < rows {
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("demo: flush row group: %w", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("demo: close writer: %w", err)
	}
	return nil
}
