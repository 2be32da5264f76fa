package health

import (
	"context"
	"fmt"

	"github.com/openpdu/powerd/internal/resilience"
	"github.com/openpdu/powerd/internal/sensor"
)

// SensorChecker reports degraded while any sensor is marked unhealthy.
// A flaky sensor must not take the daemon out of rotation, so this never
// reports unhealthy.
func SensorChecker(cache *sensor.Cache) Checker {
	return CheckerFunc{
		CheckerName: "sensors",
		Fn: func(ctx context.Context) CheckResult {
			var bad []string
			for _, h := range cache.HealthAll() {
				if !h.Healthy {
					bad = append(bad, h.Source)
				}
			}
			if len(bad) > 0 {
				return CheckResult{
					Status:  StatusDegraded,
					Message: fmt.Sprintf("%d sensor(s) unhealthy: %v", len(bad), bad),
				}
			}
			return CheckResult{Status: StatusHealthy}
		},
	}
}

// BreakerChecker reports degraded while the named circuit breaker is open.
// The time-series path is optional; its loss never makes the daemon
// unready.
func BreakerChecker(name string, cb *resilience.CircuitBreaker) Checker {
	return CheckerFunc{
		CheckerName: name,
		Fn: func(ctx context.Context) CheckResult {
			state := cb.State()
			if state == string(resilience.StateClosed) {
				return CheckResult{Status: StatusHealthy}
			}
			return CheckResult{
				Status:  StatusDegraded,
				Message: "circuit breaker " + state,
			}
		},
	}
}

// Pinger is the readiness seam for the latch store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports unhealthy when the latch store does not answer.
// Rules cannot latch without it, so this one gates readiness.
func StoreChecker(p Pinger) Checker {
	return CheckerFunc{
		CheckerName: "latch_store",
		Fn: func(ctx context.Context) CheckResult {
			if err := p.Ping(ctx); err != nil {
				return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
			}
			return CheckResult{Status: StatusHealthy}
		},
	}
}
