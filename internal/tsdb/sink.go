package tsdb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/metrics"
	"github.com/openpdu/powerd/internal/resilience"
	"github.com/openpdu/powerd/internal/sensor"
)

// Sink defaults.
const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = 5 * time.Second
	DefaultQueueDepth    = 1024

	breakerThreshold = 5
	breakerReset     = 60 * time.Second
)

// Writer ships one batch to the store.
type Writer interface {
	WriteBatch(ctx context.Context, samples []sensor.Sample) error
}

// Sink buffers samples and writes them in batches from a single worker.
// Enqueue never blocks: when the queue is full the sample is dropped and
// counted. A circuit breaker drops whole batches while the store is down.
type Sink struct {
	writer  Writer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	queue         chan sensor.Sample
	batchSize     int
	flushInterval time.Duration
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithBatchSize overrides the default batch size.
func WithBatchSize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithFlushInterval overrides the default max flush interval.
func WithFlushInterval(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// NewSink builds a sink over the writer.
func NewSink(w Writer, opts ...SinkOption) *Sink {
	s := &Sink{
		writer:        w,
		breaker:       resilience.NewCircuitBreaker("tsdb", breakerThreshold, breakerReset),
		logger:        log.WithComponent("tsdb"),
		queue:         make(chan sensor.Sample, DefaultQueueDepth),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Breaker exposes the sink's circuit breaker for readiness checks.
func (s *Sink) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Enqueue hands a sample to the sink without blocking.
func (s *Sink) Enqueue(sample sensor.Sample) {
	select {
	case s.queue <- sample:
		metrics.TSDBQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.TSDBBatches.WithLabelValues("dropped").Inc()
		s.logger.Warn().
			Str(log.FieldEvent, "tsdb.sample_dropped").
			Str(log.FieldSensorID, sample.Source).
			Msg("write queue full, sample dropped")
	}
}

// Run is the single write worker. It flushes on batch size, interval, or
// shutdown, and returns after the final flush.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]sensor.Sample, 0, s.batchSize)

	for {
		select {
		case <-ctx.Done():
			s.drainInto(&batch)
			s.flush(context.Background(), batch)
			return ctx.Err()

		case sample := <-s.queue:
			batch = append(batch, sample)
			metrics.TSDBQueueDepth.Set(float64(len(s.queue)))
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// drainInto pulls whatever is still queued for the final flush.
func (s *Sink) drainInto(batch *[]sensor.Sample) {
	for {
		select {
		case sample := <-s.queue:
			*batch = append(*batch, sample)
		default:
			return
		}
	}
}

func (s *Sink) flush(ctx context.Context, batch []sensor.Sample) {
	if len(batch) == 0 {
		return
	}

	err := s.breaker.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return s.writer.WriteBatch(wctx, batch)
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.TSDBBatches.WithLabelValues("dropped").Inc()
		s.logger.Warn().
			Str(log.FieldEvent, "tsdb.batch_dropped").
			Int("samples", len(batch)).
			Msg("store circuit open, batch dropped")
	case err != nil:
		metrics.TSDBBatches.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).
			Str(log.FieldEvent, "tsdb.batch_failed").
			Int("samples", len(batch)).
			Msg("batch write failed")
	default:
		metrics.TSDBBatches.WithLabelValues("written").Inc()
	}
}
