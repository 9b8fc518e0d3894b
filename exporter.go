package tracekit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Exporter receives each finished, sampled trace.
// metrics is nil when metric capture is disabled.
type Exporter interface {
	// Export hands a finished trace to the backend.
	Export(ctx context.Context, trace *Trace, metrics *PerformanceMetrics) error
	// Shutdown flushes and releases exporter resources.
	Shutdown(ctx context.Context) error
}

// ConsoleExporter writes a tree rendering of each trace to a writer.
type ConsoleExporter struct {
	writer io.Writer
	mu     sync.Mutex
	json   bool
	pretty bool
}

// ConsoleOption configures a ConsoleExporter.
type ConsoleOption func(*ConsoleExporter)

// WithWriter sets the output writer for the exporter.
func WithWriter(w io.Writer) ConsoleOption {
	return func(e *ConsoleExporter) {
		e.writer = w
	}
}

// WithJSON writes one JSON document per trace instead of the text tree.
func WithJSON() ConsoleOption {
	return func(e *ConsoleExporter) {
		e.json = true
	}
}

// WithPrettyPrint enables indented JSON output. Implies WithJSON.
func WithPrettyPrint() ConsoleOption {
	return func(e *ConsoleExporter) {
		e.json = true
		e.pretty = true
	}
}

// NewConsoleExporter creates a console exporter writing to stdout.
func NewConsoleExporter(opts ...ConsoleOption) *ConsoleExporter {
	e := &ConsoleExporter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// consoleOutput is the JSON structure for console output.
type consoleOutput struct {
	Metrics *PerformanceMetrics `json:"metrics,omitempty"`
	Trace   TraceSnapshot       `json:"trace"`
}

// Export writes the trace and, when present, its metrics.
func (e *ConsoleExporter) Export(_ context.Context, trace *Trace, metrics *PerformanceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.json {
		output := consoleOutput{Trace: trace.Snapshot(), Metrics: metrics}
		var data []byte
		var err error
		if e.pretty {
			data, err = json.MarshalIndent(output, "", "  ")
		} else {
			data, err = json.Marshal(output)
		}
		if err != nil {
			return fmt.Errorf("failed to marshal trace: %w", err)
		}
		_, err = fmt.Fprintln(e.writer, string(data))
		return err
	}

	if _, err := fmt.Fprintf(e.writer, "trace %s %s (%s) %s\n",
		trace.ID(), trace.Name(), trace.Duration(), trace.Status()); err != nil {
		return err
	}
	if _, err := io.WriteString(e.writer, trace.Visualize()); err != nil {
		return err
	}
	if metrics == nil {
		return nil
	}

	if _, err := fmt.Fprintf(e.writer, "spans=%d avg=%s slowest=%s (%s) heap=%d\n",
		metrics.SpanCount, metrics.AverageDuration,
		metrics.SlowestOperation.Name, metrics.SlowestOperation.Duration,
		metrics.Memory.HeapAlloc); err != nil {
		return err
	}
	for _, q := range metrics.DatabaseQueries {
		if _, err := fmt.Fprintf(e.writer, "  query %q (%s)\n", q.Query, q.Duration); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown is a no-op for the console exporter.
func (*ConsoleExporter) Shutdown(context.Context) error {
	return nil
}

// LogExporter emits one structured zap record per trace.
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter creates an exporter logging through logger.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger}
}

// Export logs the trace summary at info level, or error level for
// failed traces.
func (e *LogExporter) Export(_ context.Context, trace *Trace, metrics *PerformanceMetrics) error {
	fields := []zap.Field{
		zap.String("trace_id", trace.ID()),
		zap.String("name", trace.Name()),
		zap.Duration("duration", trace.Duration()),
		zap.Stringer("status", trace.Status()),
		zap.Int("spans", trace.Len()),
	}
	if metrics != nil {
		fields = append(fields,
			zap.String("slowest_operation", metrics.SlowestOperation.Name),
			zap.Duration("slowest_duration", metrics.SlowestOperation.Duration),
			zap.Duration("average_duration", metrics.AverageDuration),
			zap.Int("database_queries", len(metrics.DatabaseQueries)),
			zap.Uint64("heap_alloc", metrics.Memory.HeapAlloc),
		)
	}

	if err := trace.Err(); err != nil {
		e.logger.Error("trace failed", append(fields, zap.Error(err))...)
		return nil
	}
	e.logger.Info("trace finished", fields...)
	return nil
}

// Shutdown flushes the logger.
func (e *LogExporter) Shutdown(context.Context) error {
	// Sync fails on some terminals; the records are already written.
	_ = e.logger.Sync()
	return nil
}
