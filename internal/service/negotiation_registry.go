package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
)

// NegotiationView is a read-only snapshot of an open negotiation
type NegotiationView struct {
	ID       string           `json:"id"`
	State    NegotiationState `json:"state"`
	Conflict *model.Conflict  `json:"conflict"`
}

// NegotiationRegistry keeps open negotiations addressable by id so they
// can be resolved or cancelled after the edit that produced them returned.
// Negotiations are dropped once they reach a terminal state.
type NegotiationRegistry struct {
	mu           sync.Mutex
	negotiations map[string]*Negotiation

	submitter Submitter
	cache     *RegionCache
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewNegotiationRegistry creates a new registry
func NewNegotiationRegistry(
	submitter Submitter,
	cache *RegionCache,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *NegotiationRegistry {
	return &NegotiationRegistry{
		negotiations: make(map[string]*Negotiation),
		submitter:    submitter,
		cache:        cache,
		clock:        clock,
		metrics:      m,
		logger:       logger,
	}
}

// Open starts presenting a conflict and returns its negotiation
func (r *NegotiationRegistry) Open(c *model.Conflict) (*Negotiation, error) {
	n := NewNegotiation(uuid.New().String(), r.submitter, r.cache, r.clock, r.metrics, r.logger)
	if err := n.Present(c); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.negotiations[n.ID()] = n
	r.mu.Unlock()
	return n, nil
}

// Get returns an open negotiation
func (r *NegotiationRegistry) Get(id string) (*Negotiation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.negotiations[id]
	if !ok {
		return nil, fmt.Errorf("negotiation %s: %w", id, errors.ErrNotFound)
	}
	return n, nil
}

// List returns snapshots of the open negotiations, oldest first
func (r *NegotiationRegistry) List() []NegotiationView {
	r.mu.Lock()
	open := make([]*Negotiation, 0, len(r.negotiations))
	for _, n := range r.negotiations {
		open = append(open, n)
	}
	r.mu.Unlock()

	views := make([]NegotiationView, 0, len(open))
	for _, n := range open {
		views = append(views, NegotiationView{ID: n.ID(), State: n.State(), Conflict: n.Conflict()})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Conflict.DetectedAt.Before(views[j].Conflict.DetectedAt)
	})
	return views
}

// Resolve resolves an open negotiation
func (r *NegotiationRegistry) Resolve(ctx context.Context, id string, mode ResolutionMode) (*NegotiationOutcome, error) {
	n, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	outcome, err := n.Resolve(ctx, mode)
	if err != nil {
		return nil, err
	}
	r.dropIfDone(n)
	return outcome, nil
}

// Cancel cancels an open negotiation
func (r *NegotiationRegistry) Cancel(id string) error {
	n, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := n.Cancel(); err != nil {
		return err
	}
	r.dropIfDone(n)
	return nil
}

func (r *NegotiationRegistry) dropIfDone(n *Negotiation) {
	if !n.State().Terminal() {
		return
	}
	r.mu.Lock()
	delete(r.negotiations, n.ID())
	r.mu.Unlock()
}
