package service

import (
	"context"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
)

// NegotiationState is a state of the conflict resolution flow
type NegotiationState string

const (
	StateIdle       NegotiationState = "idle"
	StatePresenting NegotiationState = "presenting"
	StateResolving  NegotiationState = "resolving"
	StateResolved   NegotiationState = "resolved"
	StateCancelled  NegotiationState = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s NegotiationState) Terminal() bool {
	return s == StateResolved || s == StateCancelled
}

// ResolutionMode is the caller's choice for a conflict
type ResolutionMode string

const (
	// ModeKeepLocal overwrites the server with the local intended values
	ModeKeepLocal ResolutionMode = "keep_local"
	// ModeTakeServer discards the local change
	ModeTakeServer ResolutionMode = "take_server"
	// ModeMerge overlays the locally changed fields on the server snapshot
	ModeMerge ResolutionMode = "merge"
)

// Valid reports whether m is a known mode
func (m ResolutionMode) Valid() bool {
	switch m {
	case ModeKeepLocal, ModeTakeServer, ModeMerge:
		return true
	}
	return false
}

var fieldEquality = cmpopts.EquateEmpty()

// ChangedFields returns the editable fields whose local intended value
// differs from the server's current value. Values are compared
// structurally, so nested config and widget settings are equal when their
// contents are.
func ChangedFields(c *model.Conflict) []string {
	if c == nil || c.ServerVersion == nil {
		return nil
	}
	intended := c.LocalIntended()
	var fields []string
	for _, f := range model.EditableFields {
		if !cmp.Equal(intended.FieldValue(f), c.ServerVersion.FieldValue(f), fieldEquality) {
			fields = append(fields, f)
		}
	}
	return fields
}

// NegotiationOutcome is the result of a resolution attempt
type NegotiationOutcome struct {
	State NegotiationState `json:"state"`
	// Region is the adopted state once resolved
	Region *model.Region `json:"region,omitempty"`
	// Conflict is the fresh conflict when resubmission collided again
	Conflict *model.Conflict `json:"conflict,omitempty"`
}

// Negotiation drives one conflict from presentation to resolution:
// Idle -> Presenting -> Resolving -> Resolved | Cancelled. A version
// conflict during resubmission returns it to Presenting with the new
// server snapshot.
type Negotiation struct {
	mu       sync.Mutex
	id       string
	state    NegotiationState
	conflict *model.Conflict
	region   *model.Region

	submitter Submitter
	cache     *RegionCache
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewNegotiation creates an idle negotiation
func NewNegotiation(
	id string,
	submitter Submitter,
	cache *RegionCache,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Negotiation {
	return &Negotiation{
		id:        id,
		state:     StateIdle,
		submitter: submitter,
		cache:     cache,
		clock:     clock,
		metrics:   m,
		logger:    logger.With(zap.String("negotiation_id", id)),
	}
}

// ID returns the negotiation id
func (n *Negotiation) ID() string {
	return n.id
}

// State returns the current state
func (n *Negotiation) State() NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Conflict returns the conflict being presented
func (n *Negotiation) Conflict() *model.Conflict {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conflict
}

// Present moves Idle -> Presenting and computes the changed fields
func (n *Negotiation) Present(c *model.Conflict) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateIdle {
		return &errors.InvalidStateError{State: string(n.state), Action: "present"}
	}
	if c == nil || c.ServerVersion == nil {
		return errors.NewValidationError(errors.ErrorCodeInvalidRequest, "server_version", "conflict has no server snapshot")
	}
	c.ChangedFields = ChangedFields(c)
	n.conflict = c
	n.state = StatePresenting
	n.metrics.RecordConflict()

	n.logger.Info("Presenting conflict",
		zap.String("region_id", c.ResourceID),
		zap.Strings("changed_fields", c.ChangedFields),
		zap.Int64("server_version", c.ServerVersion.Version))
	return nil
}

// Resolve applies the chosen mode. Transport and validation failures leave
// the negotiation in Presenting and are returned to the caller.
func (n *Negotiation) Resolve(ctx context.Context, mode ResolutionMode) (*NegotiationOutcome, error) {
	n.mu.Lock()
	if n.state != StatePresenting {
		state := n.state
		n.mu.Unlock()
		return nil, &errors.InvalidStateError{State: string(state), Action: "resolve"}
	}
	if !mode.Valid() {
		n.mu.Unlock()
		return nil, errors.NewValidationError(errors.ErrorCodeInvalidRequest, "mode", "unknown resolution mode "+string(mode))
	}
	n.state = StateResolving
	conflict := n.conflict
	n.mu.Unlock()

	server := conflict.ServerVersion
	var patch *model.RegionPatch
	switch mode {
	case ModeTakeServer:
		return n.finish(mode, server), nil
	case ModeKeepLocal:
		patch = model.PatchFromRegion(conflict.LocalIntended(), conflict.ChangedFields)
	case ModeMerge:
		patch = mergePatch(conflict)
	}
	if patch.IsEmpty() {
		// nothing left to write
		return n.finish(mode, server), nil
	}

	res, err := n.submitter.Submit(ctx, &SubmitRequest{
		TenantID:        conflict.TenantID,
		LayoutID:        conflict.LayoutID,
		RegionID:        conflict.ResourceID,
		Patch:           patch,
		ExpectedVersion: server.Version,
		Base:            server,
	})
	if err != nil {
		n.mu.Lock()
		n.state = StatePresenting
		n.mu.Unlock()
		n.metrics.RecordResolution(string(mode), "error")
		n.logger.Warn("Conflict resubmission failed", zap.String("mode", string(mode)), zap.Error(err))
		return nil, err
	}

	if !res.Accepted() {
		fresh := &model.Conflict{
			TenantID:      conflict.TenantID,
			LayoutID:      conflict.LayoutID,
			ResourceID:    conflict.ResourceID,
			LocalChanges:  conflict.LocalChanges,
			LocalVersion:  conflict.LocalVersion,
			ServerVersion: res.Conflict.ServerVersion,
			DetectedAt:    res.Conflict.DetectedAt,
		}
		fresh.ChangedFields = ChangedFields(fresh)

		n.mu.Lock()
		n.conflict = fresh
		n.state = StatePresenting
		n.mu.Unlock()
		n.metrics.RecordResolution(string(mode), "conflict")
		n.logger.Info("Conflict resubmission collided again",
			zap.String("mode", string(mode)),
			zap.Int64("server_version", fresh.ServerVersion.Version))
		return &NegotiationOutcome{State: StatePresenting, Conflict: fresh}, nil
	}

	return n.finish(mode, res.Region), nil
}

// Cancel discards the local change. Only a presented conflict can be
// cancelled; the cached region keeps its last known server state.
func (n *Negotiation) Cancel() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StatePresenting {
		return &errors.InvalidStateError{State: string(n.state), Action: "cancel"}
	}
	n.state = StateCancelled
	n.metrics.RecordResolution("cancel", "cancelled")
	n.logger.Info("Conflict cancelled", zap.String("region_id", n.conflict.ResourceID))
	return nil
}

func (n *Negotiation) finish(mode ResolutionMode, region *model.Region) *NegotiationOutcome {
	n.cache.Put(region)

	n.mu.Lock()
	n.state = StateResolved
	n.region = region.Clone()
	n.mu.Unlock()

	n.metrics.RecordResolution(string(mode), "resolved")
	n.logger.Info("Conflict resolved",
		zap.String("mode", string(mode)),
		zap.String("region_id", region.ID),
		zap.Int64("version", region.Version))
	return &NegotiationOutcome{State: StateResolved, Region: region}
}

// mergePatch takes the server's values for fields only the server changed
// and the local values for everything the local patch set. Local wins when
// both changed the same field.
func mergePatch(c *model.Conflict) *model.RegionPatch {
	var serverOnly []string
	for _, f := range c.ChangedFields {
		if !c.LocalChanges.Has(f) {
			serverOnly = append(serverOnly, f)
		}
	}
	return model.PatchFromRegion(c.ServerVersion, serverOnly).Merge(c.LocalChanges)
}
