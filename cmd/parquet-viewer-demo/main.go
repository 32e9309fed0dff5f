package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/XiangpengHao/parquet-viewer/internal/demo"
)

func main() {
	var (
		out          = flag.String("out", "events.parquet", "output file path")
		rows         = flag.Int("rows", 10000, "number of events to generate")
		rowsPerGroup = flag.Int("rows-per-group", 2500, "row group size")
		seed         = flag.Int64("seed", 42, "random seed")
	)
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	if err := demo.WriteSample(f, *seed, *rows, *rowsPerGroup); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "write sample: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d events to %s\n", *rows, *out)
}
