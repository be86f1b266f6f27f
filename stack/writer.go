package stack

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"time"

	gzip "github.com/klauspost/pgzip"
)

// csvBufferSize and compressionBlockSize take their sizes from the teacher's
// own writer.go constants (bufio.NewWriterSize(..., DefaultBufferSize),
// gWriter.SetConcurrency(DefaultCompressionBlockSize, ...)), reused here for
// a single fixed-shape record instead of the teacher's protobuf/delimited
// audit-record framing.
const (
	csvBufferSize        = 64 * 1024
	compressionBlockSize = 100 * 1024
)

// StatsWriter periodically appends a CSV line of a Stats snapshot to a
// gzip-compressed file, adapted from writer.go's buffer+gzip layering
// (bufio.Writer wrapping the file, pgzip.Writer wrapping that) — minus the
// protobuf/delimited/channel machinery the teacher needs for variable-shape
// audit records, which this fixed-shape snapshot has no use for (spec.md §1:
// "optional instrumentation").
type StatsWriter struct {
	file    *os.File
	bWriter *bufio.Writer
	gWriter *gzip.Writer

	header bool
}

// NewStatsWriter creates (or truncates) path and wraps it in a buffered,
// gzip-compressed writer, following NewWriter's buffer/compress layering.
func NewStatsWriter(path string) (*StatsWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("stack: new stats writer: %w", err)
	}

	w := &StatsWriter{file: f}
	w.bWriter = bufio.NewWriterSize(f, csvBufferSize)
	w.gWriter = gzip.NewWriter(w.bWriter)

	// "To get any performance gains, you should at least be compressing
	// more than 1 megabyte of data at the time" — writer.go's own comment
	// justifying this concurrency setting, carried over verbatim in spirit.
	if err := w.gWriter.SetConcurrency(compressionBlockSize, runtime.GOMAXPROCS(0)*2); err != nil {
		w.file.Close()
		return nil, fmt.Errorf("stack: new stats writer: configure compression: %w", err)
	}

	return w, nil
}

// Append writes one CSV row for the given Stats snapshot, writing a header
// row on the first call.
func (w *StatsWriter) Append(s *Stats, ts time.Time) error {
	rows := s.snapshot()
	if !w.header {
		fields := make([]string, 0, len(rows)+1)
		fields = append(fields, "timestamp")
		for _, r := range rows {
			fields = append(fields, r[0])
		}
		if _, err := fmt.Fprintln(w.gWriter, joinCSV(fields)); err != nil {
			return err
		}
		w.header = true
	}

	fields := make([]string, 0, len(rows)+1)
	fields = append(fields, ts.UTC().Format(time.RFC3339))
	for _, r := range rows {
		fields = append(fields, r[1])
	}
	_, err := fmt.Fprintln(w.gWriter, joinCSV(fields))
	return err
}

func joinCSV(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

// Close flushes the gzip and buffered layers and closes the underlying
// file, mirroring Writer.Close's CloseGzipWriters + FlushWriters sequence.
func (w *StatsWriter) Close() error {
	if err := w.gWriter.Flush(); err != nil {
		return err
	}
	if err := w.gWriter.Close(); err != nil {
		return err
	}
	if err := w.bWriter.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}
