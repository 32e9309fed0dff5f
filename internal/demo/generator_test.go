package demo

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func TestGeneratorIsDeterministic(t *testing.T) {
	a := NewGenerator(42, 100)
	b := NewGenerator(42, 100)
	for i := 0; i < 50; i++ {
		if got, want := a.Next(), b.Next(); got != want {
			t.Fatalf("event %d diverged: %+v vs %+v", i, got, want)
		}
	}
}

func TestGeneratorAmounts(t *testing.T) {
	gen := NewGenerator(7, 100)
	for i := 0; i < 500; i++ {
		ev := gen.Next()
		switch ev.EventType {
		case "page_view", "search":
			if ev.Amount != 0 {
				t.Fatalf("%s event has amount %v", ev.EventType, ev.Amount)
			}
		default:
			if ev.Amount <= 0 {
				t.Fatalf("%s event has non-positive amount %v", ev.EventType, ev.Amount)
			}
		}
	}
}

func TestWriteSampleProducesReadableParquet(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSample(&buf, 1, 100, 25); err != nil {
		t.Fatalf("WriteSample() error = %v", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if got := file.NumRows(); got != 100 {
		t.Fatalf("NumRows() = %d, want 100", got)
	}
	if got := len(file.RowGroups()); got != 4 {
		t.Fatalf("row groups = %d, want 4", got)
	}
}

func TestWriteSampleRejectsZeroRows(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSample(&buf, 1, 0, 10); err == nil {
		t.Fatal("WriteSample() with zero rows succeeded, want error")
	}
}
