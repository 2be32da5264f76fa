package sensor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openpdu/powerd/internal/log"
)

// maxReadDeadline caps the per-sensor read deadline regardless of the poll
// interval.
const maxReadDeadline = 2 * time.Second

// Handler consumes successful samples. Handlers must not block: slow
// consumers own their own buffering.
type Handler func(Sample)

// Poller fans a read out to every sensor on each tick of the poll clock and
// distributes successful samples to the cache and the registered handlers.
type Poller struct {
	cache    *Cache
	logger   zerolog.Logger
	interval atomic.Int64 // nanoseconds

	mu       sync.RWMutex
	readers  []Reader
	handlers []Handler

	running atomic.Bool
}

// NewPoller builds a poller over the given readers.
func NewPoller(cache *Cache, readers []Reader, interval time.Duration) *Poller {
	p := &Poller{
		cache:   cache,
		logger:  log.WithComponent("sensor"),
		readers: readers,
	}
	p.interval.Store(int64(interval))
	return p
}

// OnSample registers a handler for successful samples. Must be called
// before Run.
func (p *Poller) OnSample(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// SetInterval changes the poll interval; it takes effect on the next tick.
func (p *Poller) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval.Store(int64(d))
	}
}

// SetReaders swaps the sensor set after a config change.
func (p *Poller) SetReaders(readers []Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers = readers
}

// Run drives the poll loop until ctx is done. An immediate first poll runs
// before the ticker starts so the cache is warm at startup.
func (p *Poller) Run(ctx context.Context) error {
	p.pollOnce(ctx)

	timer := time.NewTimer(p.intervalDur())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if p.running.Load() {
				// previous tick still in flight: skip, never queue
				p.logger.Warn().
					Str(log.FieldEvent, "sensor.tick_skipped").
					Msg("poll tick overran, skipping")
			} else {
				go p.pollOnce(ctx)
			}
			timer.Reset(p.intervalDur())
		}
	}
}

func (p *Poller) intervalDur() time.Duration {
	return time.Duration(p.interval.Load())
}

// readDeadline is min(0.4·interval, 2s).
func (p *Poller) readDeadline() time.Duration {
	d := p.intervalDur() * 4 / 10
	if d > maxReadDeadline {
		d = maxReadDeadline
	}
	return d
}

// pollOnce reads every sensor in parallel. Per-sensor failure is isolated:
// it is recorded against that sensor's health and nothing else.
func (p *Poller) pollOnce(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	p.mu.RLock()
	readers := make([]Reader, len(p.readers))
	copy(readers, p.readers)
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	deadline := p.readDeadline()
	g, gctx := errgroup.WithContext(ctx)

	for _, r := range readers {
		r := r
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, deadline)
			defer cancel()

			fields, err := r.Read(rctx)
			if err != nil {
				p.cache.RecordFailure(r.ID(), err)
				p.logger.Warn().Err(err).
					Str(log.FieldEvent, "sensor.read_failed").
					Str(log.FieldSensorID, r.ID()).
					Msg("sensor read failed")
				return nil
			}

			now := time.Now()
			sample := Sample{
				Source:    r.ID(),
				Fields:    fields,
				Timestamp: now,
				Seq:       now.UnixNano(),
			}
			p.cache.RecordSuccess(sample)
			for _, h := range handlers {
				h(sample)
			}
			return nil
		})
	}
	_ = g.Wait()
}
