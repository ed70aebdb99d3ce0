package ers

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/zkrelay/internal/logging"
	"github.com/oriys/zkrelay/internal/metrics"
)

// ErrMaxRetries is returned by Supervisor.Run when consecutive recoverable
// failures exceed the configured retry budget.
var ErrMaxRetries = errors.New("ers: consecutive failures exceeded max retries")

// Supervisor owns the single Poller loop and the consecutive-failure
// budget: recoverable ticks (market RPC, event query) increment a counter
// and continue; irrecoverable ticks (database, insufficient funds,
// request-not-expired, max retries) terminate the loop.
type Supervisor struct {
	Poller       *Poller
	Metrics      *metrics.Metrics
	TickInterval time.Duration
	MaxRetries   int

	consecutiveFailures int
}

// NewSupervisor wires a Supervisor around poller with sane defaults.
func NewSupervisor(poller *Poller, m *metrics.Metrics, interval time.Duration, maxRetries int) *Supervisor {
	if interval <= 0 {
		interval = tickInterval
	}
	return &Supervisor{Poller: poller, Metrics: m, TickInterval: interval, MaxRetries: maxRetries}
}

// Run blocks, ticking the Poller at TickInterval until ctx is cancelled or
// a terminal error condition is reached.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tickOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) tickOnce(ctx context.Context) error {
	started := time.Now()
	err := s.Poller.Tick(ctx)
	logging.Default().Log(&logging.RequestLog{
		Component:  "poller",
		DurationMs: time.Since(started).Milliseconds(),
		Success:    err == nil,
		Retries:    s.consecutiveFailures,
		Error:      errString(err),
	})

	if err == nil {
		s.consecutiveFailures = 0
		s.Metrics.SetConsecutiveFailures(0)
		s.Metrics.RecordPollTick("ok")
		return nil
	}

	kind, recoverable := classify(err)
	if !recoverable {
		s.Metrics.RecordPollTick("fatal")
		return err
	}

	s.consecutiveFailures++
	s.Metrics.SetConsecutiveFailures(s.consecutiveFailures)
	s.Metrics.RecordPollTick("recoverable_error")
	logging.Op().Warn("ers poll tick failed, retrying", "kind", kind, "consecutive_failures", s.consecutiveFailures, "error", err)

	if s.consecutiveFailures > s.MaxRetries {
		return ErrMaxRetries
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
