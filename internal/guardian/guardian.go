// Package guardian implements the root supervisor (§4.1): it owns the
// QueueManager, brings it up idempotently via Initialize, and translates
// unexpected QueueManager termination into a restart under a bounded budget,
// escalating to a degraded mode that refuses further admissions once that
// budget is exhausted. Modeled on modules/backendscheduler's own
// services.NewBasicService(starting, running, stopping) supervision loop one
// level up: Guardian is the owner that watches a child's lifecycle and
// decides restart vs escalate, the way §9's design note describes.
package guardian

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/sony/gobreaker"
	"go.uber.org/atomic"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/queuemanager"
)

// errRestart is recorded against the breaker once per QueueManager restart;
// it never crosses a component boundary, it only exists to give the breaker
// a failure to count (§4.1: "N restarts within time window W").
var errRestart = errors.New("queuemanager restarted")

// QueueManagerFactory builds a fresh QueueManager. Guardian calls it once on
// Initialize and again on every restart, so the closure must be safe to
// invoke more than once.
type QueueManagerFactory func() *queuemanager.QueueManager

// Guardian is the process's single root supervisor (§2, §4.1).
type Guardian struct {
	cfg     config.SupervisionConfig
	factory QueueManagerFactory
	logger  log.Logger

	mu           sync.Mutex
	qm           *queuemanager.QueueManager
	initialized  bool
	shuttingDown bool

	breaker  *gobreaker.CircuitBreaker
	degraded atomic.Bool
}

func New(cfg config.SupervisionConfig, factory QueueManagerFactory, logger log.Logger) *Guardian {
	g := &Guardian{cfg: cfg, factory: factory, logger: logger}

	// The breaker counts restarts, not request failures: every QueueManager
	// restart is recorded as one failed Execute, and ReadyToTrip fires once
	// that count exceeds MaxRestarts within one RestartTimeRange window
	// (§4.1's "more than N restarts within time window W"). Tripping open
	// is permanent for this process — GetQueueActor/admission consult
	// g.degraded rather than the breaker's own half-open recovery, since §4.1
	// requires staying degraded until operator intervention, not a timed
	// auto-recovery.
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "guardian-restart-budget",
		Interval: cfg.RestartTimeRange,
		Timeout:  cfg.RestartTimeRange,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > uint32(cfg.MaxRestarts)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				g.degraded.Store(true)
				level.Error(g.logger).Log("msg", "restart budget exhausted; circuit breaker open, admissions refused")
			}
		},
	})
	return g
}

// Initialize idempotently brings up the QueueManager (§4.1). A second call is
// a no-op that returns the existing handle and logs a warning rather than
// spawning a duplicate.
func (g *Guardian) Initialize(ctx context.Context) (*queuemanager.QueueManager, error) {
	g.mu.Lock()
	if g.initialized {
		qm := g.qm
		g.mu.Unlock()
		level.Warn(g.logger).Log("msg", "Initialize called again; returning existing QueueManager")
		return qm, nil
	}
	g.initialized = true
	qm := g.factory()
	g.qm = qm
	g.mu.Unlock()

	if err := services.StartAndAwaitRunning(ctx, qm); err != nil {
		return nil, err
	}
	go g.supervise(ctx, qm)
	return qm, nil
}

// GetQueueActor returns the current QueueManager handle. It fails with
// ActorSystemNotReady if Initialize hasn't completed, or with
// ServiceUnavailable if the restart-budget circuit breaker has tripped open
// (§4.1, §7).
func (g *Guardian) GetQueueActor() (*queuemanager.QueueManager, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return nil, errorkind.New(errorkind.ActorSystemNotReady, "Guardian.Initialize has not completed")
	}
	if g.degraded.Load() {
		return nil, errorkind.New(errorkind.ServiceUnavailable, "circuit breaker open: restart budget exhausted")
	}
	return g.qm, nil
}

// Degraded reports whether the restart budget has been exhausted, surfaced
// through QueueStatus's degraded field (§9).
func (g *Guardian) Degraded() bool {
	return g.degraded.Load()
}

// Shutdown stops supervising and terminates the current QueueManager.
func (g *Guardian) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shuttingDown = true
	qm := g.qm
	g.mu.Unlock()

	if qm == nil {
		return nil
	}
	qm.StopAsync()
	return qm.AwaitTerminated(ctx)
}

// supervise waits for qm's termination and restarts it under the configured
// budget (§4.1), escalating to degraded mode once the budget is exhausted.
func (g *Guardian) supervise(ctx context.Context, qm *queuemanager.QueueManager) {
	for {
		err := qm.AwaitTerminated(context.Background())

		g.mu.Lock()
		shuttingDown := g.shuttingDown
		g.mu.Unlock()
		if shuttingDown || ctx.Err() != nil {
			return
		}

		if err == nil {
			level.Warn(g.logger).Log("msg", "QueueManager terminated unexpectedly")
		} else {
			level.Error(g.logger).Log("msg", "QueueManager terminated with error", "err", err)
		}

		g.breaker.Execute(func() (interface{}, error) { return nil, errRestart })
		if g.degraded.Load() {
			return
		}

		next := g.factory()
		g.mu.Lock()
		g.qm = next
		g.mu.Unlock()

		if startErr := services.StartAndAwaitRunning(ctx, next); startErr != nil {
			level.Error(g.logger).Log("msg", "failed to restart QueueManager", "err", startErr)
			g.degraded.Store(true)
			return
		}
		level.Info(g.logger).Log("msg", "QueueManager restarted")
		qm = next
	}
}
