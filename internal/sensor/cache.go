package sensor

import (
	"sync"
	"time"

	"github.com/openpdu/powerd/internal/metrics"
)

// unhealthyAfter is the number of consecutive failures that marks a sensor
// unhealthy. A single success clears the flag.
const unhealthyAfter = 3

// Health is the externally visible health of one sensor.
type Health struct {
	Source              string     `json:"source"`
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// Cache holds the latest sample per source plus per-sensor health. This is
// the read path the API serves from; the poller is the only writer.
type Cache struct {
	mu     sync.RWMutex
	latest map[string]Sample
	health map[string]*Health
}

// NewCache returns an empty cache pre-seeded with healthy entries for the
// given sources so the status endpoint is complete before the first poll.
func NewCache(sources []string) *Cache {
	c := &Cache{
		latest: make(map[string]Sample, len(sources)),
		health: make(map[string]*Health, len(sources)),
	}
	for _, s := range sources {
		c.health[s] = &Health{Source: s, Healthy: true}
		metrics.SensorUnhealthy.WithLabelValues(s).Set(0)
	}
	return c
}

// RecordSuccess stores the sample and clears the failure streak.
func (c *Cache) RecordSuccess(sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[sample.Source] = sample
	h := c.healthLocked(sample.Source)
	h.Healthy = true
	h.ConsecutiveFailures = 0
	ts := sample.Timestamp
	h.LastSuccess = &ts
	h.LastError = ""
	metrics.SensorReads.WithLabelValues(sample.Source, "success").Inc()
	metrics.SensorUnhealthy.WithLabelValues(sample.Source).Set(0)
}

// RecordFailure increments the failure streak; the cached sample for the
// source is left untouched.
func (c *Cache) RecordFailure(source string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.healthLocked(source)
	h.ConsecutiveFailures++
	h.LastError = err.Error()
	metrics.SensorReads.WithLabelValues(source, "failure").Inc()
	if h.ConsecutiveFailures >= unhealthyAfter {
		h.Healthy = false
		metrics.SensorUnhealthy.WithLabelValues(source).Set(1)
	}
}

func (c *Cache) healthLocked(source string) *Health {
	h, ok := c.health[source]
	if !ok {
		h = &Health{Source: source, Healthy: true}
		c.health[source] = h
	}
	return h
}

// Latest returns the most recent sample for source.
func (c *Cache) Latest(source string) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.latest[source]
	return s, ok
}

// All returns the latest sample for every source that has one.
func (c *Cache) All() map[string]Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Sample, len(c.latest))
	for k, v := range c.latest {
		out[k] = v
	}
	return out
}

// HealthOf returns the health record for source.
func (c *Cache) HealthOf(source string) (Health, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.health[source]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// HealthAll returns a snapshot of every sensor's health.
func (c *Cache) HealthAll() []Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Health, 0, len(c.health))
	for _, h := range c.health {
		out = append(out, *h)
	}
	return out
}
