package main

import (
	"fmt"
	"io"
	"time"

	"loopcap/recorder"
	"loopcap/sink"
)

// plainReporter prints one line per segment. Used when stdout is not a
// terminal or -tui=false.
type plainReporter struct {
	w io.Writer
}

func (r plainReporter) Progress(float64, time.Duration) {}

func (r plainReporter) SegmentWritten(res sink.Result) {
	fmt.Fprintf(r.w, "segment %d: %.1fs, %d bytes -> %s\n", res.Seq, res.Duration.Seconds(), res.Bytes, res.Path)
}

func (r plainReporter) SegmentFailed(err *recorder.SinkError) {
	fmt.Fprintf(r.w, "segment %d: FAILED: %v\n", err.Seq, err.Err)
}

func printSummary(w io.Writer, s recorder.Summary) {
	fmt.Fprintf(w, "\n%d segments (%d written, %d failed), %.1fs of audio", s.Segments, s.Written, s.Failed, s.Duration.Seconds())
	if s.Overruns > 0 {
		fmt.Fprintf(w, ", %d chunks dropped", s.Overruns)
	}
	fmt.Fprintln(w)
	for _, err := range s.Errors {
		fmt.Fprintf(w, "  %v\n", err)
	}
}
