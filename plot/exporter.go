package plot

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"dpaRecover/logger"
)

// Metrics count exporter outcomes.
type Metrics struct {
	Written prometheus.Counter
	Dropped prometheus.Counter
	Failed  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dpa", Subsystem: "plot", Name: name, Help: help})
	}
	m := &Metrics{
		Written: counter("written_total", "Differential traces written to disk."),
		Dropped: counter("dropped_total", "Differential traces dropped because the export queue was full or closed."),
		Failed:  counter("failed_total", "Differential traces that could not be written or rendered."),
	}
	if reg != nil {
		reg.MustRegister(m.Written, m.Dropped, m.Failed)
	}
	return m
}

type job struct {
	keybyte int
	guess   byte
	diff    []float64
}

type ExporterOption func(*Exporter)

func WithLogger(l logger.Logger) ExporterOption {
	return func(e *Exporter) { e.log = l }
}

func WithMetrics(m *Metrics) ExporterOption {
	return func(e *Exporter) { e.metrics = m }
}

// WithRenderer overrides the renderer selected by Config.Renderer.
func WithRenderer(r Renderer) ExporterOption {
	return func(e *Exporter) { e.renderer = r }
}

// Exporter writes differential traces on a fixed set of workers fed by a bounded queue.
// Submit never blocks and export failures are only logged.
type Exporter struct {
	cfg      Config
	renderer Renderer
	log      logger.Logger
	metrics  *Metrics

	mu     sync.RWMutex
	closed bool
	jobs   chan job

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExporter creates cfg.Dir and starts cfg.Workers workers.
func NewExporter(cfg Config, opts ...ExporterOption) (*Exporter, error) {
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory %v : %w", cfg.Dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		cfg:    cfg,
		log:    logger.Nop(),
		jobs:   make(chan job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.renderer == nil {
		r, err := NewRenderer(cfg.Renderer)
		if err != nil {
			cancel()
			return nil, err
		}
		e.renderer = r
	}

	wg := &sync.WaitGroup{}
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker()
		}()
	}
	go func() {
		wg.Wait()
		close(e.done)
	}()
	return e, nil
}

// Submit queues diff for export. The slice must not be modified afterwards.
func (e *Exporter) Submit(keybyte int, guess byte, diff []float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.metrics.Dropped.Inc()
		return
	}
	select {
	case e.jobs <- job{keybyte: keybyte, guess: guess, diff: diff}:
	default:
		e.metrics.Dropped.Inc()
		e.log.Warn("plot queue full, dropping differential trace",
			"keybyte", keybyte, "guess", fmt.Sprintf("%02x", guess), "queue_size", e.cfg.QueueSize)
	}
}

func (e *Exporter) worker() {
	for j := range e.jobs {
		if e.ctx.Err() != nil {
			//abandoned by Close
			continue
		}
		path := Path(e.cfg.Dir, j.keybyte, j.guess)
		if err := WriteData(path, j.diff); err != nil {
			e.metrics.Failed.Inc()
			e.log.Warn("failed to write plot data", "path", path, "error", err)
			continue
		}
		if err := e.renderer.Render(e.ctx, path); err != nil {
			e.metrics.Failed.Inc()
			e.log.Warn("failed to render plot", "path", path, "error", err)
			continue
		}
		e.metrics.Written.Inc()
	}
}

// Close stops accepting jobs and waits for the queue to drain. If ctx ends first
// the remaining jobs are abandoned, running renderers are killed and ctx.Err() is returned.
func (e *Exporter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-e.done
		return ctx.Err()
	}
}
