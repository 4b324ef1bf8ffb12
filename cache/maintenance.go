package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Every fifth sweep upgrades to a full optimize pass, so the default one
// minute interval optimizes roughly every five minutes.
const optimizeEveryTicks = 5

type maintainable interface {
	RemoveExpired() int
	Optimize()
}

// MaintenanceScheduler owns the background sweep loop of a store. It is an
// explicit object with a start/stop lifecycle and an injectable clock, so
// tests drive it with a mock clock instead of wall-clock waits, and owners
// can stop it without leaking a timer.
type MaintenanceScheduler struct {
	target   maintainable
	interval time.Duration
	clk      clock.Clock
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	ticker *clock.Ticker
	stop   chan struct{}
	ticks  int
}

// NewMaintenanceScheduler builds a stopped scheduler for target.
func NewMaintenanceScheduler(target maintainable, interval time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		target:   target,
		interval: interval,
		clk:      clk,
		logger:   logger,
	}
}

// Start arms the ticker. Calling Start on a running scheduler is a no-op.
func (s *MaintenanceScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.ticker = s.clk.Ticker(s.interval)
	s.stop = make(chan struct{})
	go s.run(s.ticker, s.stop)
	s.logger.Debugw("Maintenance scheduler started", "interval", s.interval)
}

// Stop halts the loop and releases the timer. Safe to call repeatedly.
func (s *MaintenanceScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.logger.Debugw("Maintenance scheduler stopped")
}

// Running reports whether the loop is active.
func (s *MaintenanceScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}

func (s *MaintenanceScheduler) run(ticker *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-stop:
			return
		}
	}
}

func (s *MaintenanceScheduler) sweep() {
	s.mu.Lock()
	s.ticks++
	full := s.ticks%optimizeEveryTicks == 0
	s.mu.Unlock()

	if removed := s.target.RemoveExpired(); removed > 0 {
		s.logger.Debugw("Expiry sweep removed entries", "count", removed)
	}
	if full {
		s.target.Optimize()
	}
}
