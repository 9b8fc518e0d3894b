package tracekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Tracer tracks open traces and runs the finish pipeline: store, analyze,
// export. Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	config         Config
	exporters      []Exporter
	active         map[string]*Trace
	store          *TraceStore
	analyzer       *Analyzer
	memory         MemorySampler
	workers        *workerPool
	logger         *zap.Logger
	clock          clockz.Clock
	ids            IDGenerator
	sampler        Sampler
	ownedIDs       *PooledIDs
	registerer     prometheus.Registerer
	mu             sync.RWMutex
	workersLock    sync.Mutex
	droppedExports atomic.Uint64
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for every timestamp.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		t.clock = clock
	}
}

// WithIDGenerator sets the trace and span ID source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(t *Tracer) {
		t.ids = ids
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		t.logger = logger
	}
}

// WithExporter adds an exporter after the one selected by Config.ExportTo.
func WithExporter(e Exporter) Option {
	return func(t *Tracer) {
		if e != nil {
			t.exporters = append(t.exporters, e)
		}
	}
}

// WithMemorySampler sets the memory source used by metric analysis.
func WithMemorySampler(m MemorySampler) Option {
	return func(t *Tracer) {
		t.memory = m
	}
}

// WithSampler sets the random source used for Config.SampleRate.
func WithSampler(s Sampler) Option {
	return func(t *Tracer) {
		t.sampler = s
	}
}

// WithRegisterer sets the registry used when Config.ExportTo is prometheus.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracer) {
		t.registerer = reg
	}
}

// WithStore shares an existing trace store.
func WithStore(s *TraceStore) Option {
	return func(t *Tracer) {
		t.store = s
	}
}

// New creates a tracer. The config is validated first; unset fields take
// their DefaultConfig values.
func New(cfg Config, opts ...Option) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	t := &Tracer{
		config:  cfg,
		active:  make(map[string]*Trace),
		clock:   clockz.RealClock,
		logger:  zap.NewNop(),
		sampler: RandomSampler,
	}

	for _, opt := range opts {
		opt(t)
	}
	extra := t.exporters
	t.exporters = nil

	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("tracekit").With(zap.String("service", cfg.ServiceName))
	if t.clock == nil {
		t.clock = clockz.RealClock
	}
	if t.sampler == nil {
		t.sampler = RandomSampler
	}
	if t.ids == nil {
		t.ownedIDs = NewPooledIDs(0)
		t.ids = t.ownedIDs
	}
	if t.store == nil {
		t.store = NewTraceStore(cfg.StoreCapacity)
		t.store.OnEvict(func(evicted *Trace) {
			t.logger.Debug("trace evicted", zap.String("trace_id", evicted.ID()))
		})
	}
	t.analyzer = NewAnalyzer(t.memory, t.clock)

	switch cfg.ExportTo {
	case ExportConsole:
		t.exporters = append(t.exporters, NewConsoleExporter())
	case ExportLog:
		t.exporters = append(t.exporters, NewLogExporter(t.logger))
	case ExportPrometheus:
		prom, err := NewPrometheusExporter(t.registerer, DefaultMetricsNamespace, cfg.ServiceName)
		if err != nil {
			if t.ownedIDs != nil {
				t.ownedIDs.Close()
			}
			return nil, err
		}
		t.exporters = append(t.exporters, prom)
	}
	t.exporters = append(t.exporters, extra...)

	return t, nil
}

// Config returns the effective configuration.
func (t *Tracer) Config() Config {
	return t.config.withDefaults()
}

// Store returns the store holding finished traces.
func (t *Tracer) Store() *TraceStore {
	return t.store
}

// StartTrace opens a trace whose root span is named name. The returned
// trace is the handle for all further span operations.
func (t *Tracer) StartTrace(name Key) *Trace {
	trace := NewTrace(name, t.clock, t.ids)
	trace.sampled = sampled(t.config.Rate(), t.sampler)

	t.mu.Lock()
	t.active[trace.ID()] = trace
	t.mu.Unlock()

	t.logger.Debug("trace started",
		zap.String("trace_id", trace.ID()),
		zap.String("name", name),
		zap.Bool("sampled", trace.sampled),
	)
	return trace
}

func (t *Tracer) activeTrace(traceID string) (*Trace, error) {
	if traceID == "" {
		return nil, ErrNoActiveTrace
	}

	t.mu.RLock()
	trace, ok := t.active[traceID]
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	return trace, nil
}

// StartSpan opens a span in the identified open trace.
func (t *Tracer) StartSpan(traceID string, name Key) (*ActiveSpan, error) {
	trace, err := t.activeTrace(traceID)
	if err != nil {
		return nil, err
	}
	return trace.StartSpan(name)
}

// EndSpan ends the current span of the identified open trace.
func (t *Tracer) EndSpan(traceID string, err error) error {
	trace, lookupErr := t.activeTrace(traceID)
	if lookupErr != nil {
		return lookupErr
	}
	return trace.EndSpan(err)
}

// FinishTrace finishes an open trace and removes it from the active set.
// Sampled traces are stored, analyzed when CaptureMetrics is set, and
// exported. The finished trace is returned even if an exporter fails.
func (t *Tracer) FinishTrace(ctx context.Context, traceID string, err error) (*Trace, error) {
	if traceID == "" {
		return nil, ErrNoActiveTrace
	}

	t.mu.Lock()
	trace, ok := t.active[traceID]
	delete(t.active, traceID)
	t.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}

	// A trace already finished through its handle still belongs to this
	// call once it leaves the active set, so it is stored and exported.
	var finishErr error
	if ferr := trace.Finish(err); ferr != nil {
		finishErr = fmt.Errorf("finish trace %s: %w", traceID, ferr)
	} else {
		t.logger.Debug("trace finished",
			zap.String("trace_id", traceID),
			zap.Duration("duration", trace.Duration()),
			zap.Stringer("status", trace.Status()),
		)
	}

	if !trace.Sampled() {
		return trace, finishErr
	}

	if storeErr := t.store.Store(trace); storeErr != nil {
		return trace, errors.Join(finishErr, storeErr)
	}

	var metrics *PerformanceMetrics
	if t.config.MetricsEnabled() {
		m := t.analyzer.Analyze(trace)
		metrics = &m
	}

	if exportErr := t.export(ctx, trace, metrics); exportErr != nil {
		return trace, errors.Join(finishErr, fmt.Errorf("export trace %s: %w", traceID, exportErr))
	}
	return trace, finishErr
}

func (t *Tracer) export(ctx context.Context, trace *Trace, metrics *PerformanceMetrics) error {
	t.workersLock.Lock()
	workers := t.workers
	t.workersLock.Unlock()

	var errs []error
	for _, e := range t.exporters {
		if workers != nil {
			exporter := e
			detached := context.WithoutCancel(ctx)
			if !workers.submit(func() {
				_ = t.safeExport(detached, exporter, trace, metrics)
			}) {
				t.droppedExports.Add(1)
			}
			continue
		}
		if err := t.safeExport(ctx, e, trace, metrics); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracer) safeExport(ctx context.Context, e Exporter, trace *Trace, metrics *PerformanceMetrics) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exporter %T panicked: %v", e, r)
		}
		if err != nil {
			t.logger.Warn("export failed",
				zap.String("trace_id", trace.ID()),
				zap.String("exporter", fmt.Sprintf("%T", e)),
				zap.Error(err),
			)
		}
	}()
	return e.Export(ctx, trace, metrics)
}

// GetTrace returns an open trace, or a finished trace still retained.
func (t *Tracer) GetTrace(traceID string) (*Trace, bool) {
	t.mu.RLock()
	trace, ok := t.active[traceID]
	t.mu.RUnlock()

	if ok {
		return trace, true
	}
	return t.store.Get(traceID)
}

// ActiveTraces returns the number of open traces.
func (t *Tracer) ActiveTraces() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// SlowTraces returns retained traces whose duration exceeds threshold.
func (t *Tracer) SlowTraces(threshold time.Duration) []*Trace {
	return t.store.SlowTraces(threshold)
}

// Stats aggregates durations of the retained traces.
func (t *Tracer) Stats() (StoreStats, error) {
	return t.store.Stats()
}

// Analyze computes metrics for any trace with the tracer's collaborators.
func (t *Tracer) Analyze(trace *Trace) PerformanceMetrics {
	return t.analyzer.Analyze(trace)
}

// EnableWorkerPool moves exports onto a bounded worker pool. When the
// queue is full the export is dropped and counted.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	t.workersLock.Lock()
	defer t.workersLock.Unlock()

	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.workers = &workerPool{
		tasks: make(chan func(), queueSize),
		stop:  make(chan struct{}),
	}
	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}
	return nil
}

// DroppedExports returns the number of exports refused by a full or closed
// worker queue.
func (t *Tracer) DroppedExports() uint64 {
	return t.droppedExports.Load()
}

// Close waits for queued exports, shuts down exporters and releases ID pools.
// Open traces are abandoned.
func (t *Tracer) Close(ctx context.Context) error {
	t.workersLock.Lock()
	workers := t.workers
	t.workers = nil
	t.workersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}

	var errs []error
	for _, e := range t.exporters {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if t.ownedIDs != nil {
		t.ownedIDs.Close()
	}
	return errors.Join(errs...)
}

// workerPool runs queued exports on a fixed number of goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks  chan func()
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			// Finish queued work before exiting.
			for {
				select {
				case task := <-w.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// submit queues task without blocking. It reports false when the queue
// is full or the pool has shut down.
func (w *workerPool) submit(task func()) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return false
	}
	select {
	case w.tasks <- task:
		return true
	default:
		return false
	}
}

func (w *workerPool) shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	// Tasks accepted before this point are drained by the workers.
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
}
