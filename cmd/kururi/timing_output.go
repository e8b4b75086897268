package main

import (
	"fmt"
	"io"
	"time"

	"kururi/internal/buildpipeline"
	"kururi/internal/stage"
)

func printStageTimings(out io.Writer, timings buildpipeline.Timings) {
	if out == nil {
		return
	}
	names := append(stage.Names(), stage.Unified)
	for _, name := range names {
		if !timings.Has(name) {
			continue
		}
		fmt.Fprintf(out, "%-8s %8.1f ms\n", name, toMillis(timings.Duration(name)))
	}
	fmt.Fprintf(out, "%-8s %8.1f ms\n", "total", toMillis(timings.Total()))
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
