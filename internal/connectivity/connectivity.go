// Package connectivity provides the online/offline signal the offline queue
// listens to.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Monitor is a boolean online source with transition events
type Monitor interface {
	Online() bool
	// Subscribe registers fn for online/offline transitions and returns a
	// function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type listener struct {
	id int
	fn func(bool)
}

// Signal is a settable Monitor. Listeners run synchronously on the
// goroutine that changed the state, outside the signal's lock.
type Signal struct {
	mu        sync.Mutex
	online    bool
	listeners []listener
	nextID    int
	logger    *zap.Logger
}

// NewSignal creates a signal in the given initial state
func NewSignal(online bool, logger *zap.Logger) *Signal {
	return &Signal{online: online, logger: logger}
}

// Online reports the current state
func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the state, notifying listeners only on a transition
func (s *Signal) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	fns := make([]func(bool), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.mu.Unlock()

	s.logger.Info("Connectivity changed", zap.Bool("online", online))
	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers a transition listener
func (s *Signal) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Pinger is anything whose reachability can be checked
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProbe drives a Signal by pinging a remote endpoint on an interval.
type HealthProbe struct {
	*Signal
	pinger   Pinger
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHealthProbe creates a probe that starts out offline until the first
// successful ping.
func NewHealthProbe(pinger Pinger, clock clockwork.Clock, interval, timeout time.Duration, logger *zap.Logger) *HealthProbe {
	return &HealthProbe{
		Signal:   NewSignal(false, logger),
		pinger:   pinger,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Probe pings once and updates the signal
func (p *HealthProbe) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err != nil {
		p.logger.Debug("Health probe failed", zap.Error(err))
	}
	p.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done
func (p *HealthProbe) Run(ctx context.Context) {
	p.logger.Info("Starting connectivity probe", zap.Duration("interval", p.interval))

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Connectivity probe stopped")
			return
		case <-ticker.Chan():
			p.Probe(ctx)
		}
	}
}
