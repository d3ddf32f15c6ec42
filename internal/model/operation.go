package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPayload marks a queued operation whose payload cannot be
// dispatched. It is never worth retrying.
var ErrInvalidPayload = errors.New("invalid operation payload")

// OperationType is the kind of mutation a queued operation performs
type OperationType string

const (
	OpCreate  OperationType = "create"
	OpUpdate  OperationType = "update"
	OpDelete  OperationType = "delete"
	OpReorder OperationType = "reorder"
)

// ResourceType is the resource a queued operation targets
type ResourceType string

const (
	ResourceRegion   ResourceType = "region"
	ResourceLayout   ResourceType = "layout"
	ResourceTemplate ResourceType = "template"
)

// OperationStatus tracks delivery progress of a queued operation
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusSyncing   OperationStatus = "syncing"
	StatusFailed    OperationStatus = "failed"
	StatusCompleted OperationStatus = "completed"
	// StatusConflicted means replay lost a version race and the change was
	// handed to a negotiation
	StatusConflicted OperationStatus = "conflicted"
)

// QueuedOperation is a durable record of a pending mutation
type QueuedOperation struct {
	ID          string          `json:"id"`
	Type        OperationType   `json:"type"`
	Resource    ResourceType    `json:"resource"`
	ResourceID  string          `json:"resource_id,omitempty"`
	Payload     Payload         `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Retries     int             `json:"retries"`
	Status      OperationStatus `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	// NegotiationID is set once the operation is conflicted
	NegotiationID string `json:"negotiation_id,omitempty"`
}

// Clone returns a copy safe to hand outside the queue. Payloads are
// treated as immutable once enqueued.
func (op *QueuedOperation) Clone() *QueuedOperation {
	c := *op
	if op.CompletedAt != nil {
		t := *op.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Validate checks the operation is dispatchable: the payload variant must
// match the resource/type pair and carry its required fields.
func (op *QueuedOperation) Validate() error {
	if op.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	resource, typ := op.Payload.Kind()
	if resource != op.Resource || typ != op.Type {
		return fmt.Errorf("%w: payload is %s-%s, operation is %s-%s",
			ErrInvalidPayload, resource, typ, op.Resource, op.Type)
	}
	if (op.Type == OpUpdate || op.Type == OpDelete) && op.ResourceID == "" {
		return fmt.Errorf("%w: %s-%s requires a resource id", ErrInvalidPayload, op.Resource, op.Type)
	}
	return op.Payload.Validate()
}

// UnmarshalJSON decodes the payload into the variant selected by the
// operation's resource and type.
func (op *QueuedOperation) UnmarshalJSON(data []byte) error {
	type alias QueuedOperation
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(op)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := NewPayload(op.Resource, op.Type)
	if err != nil {
		return err
	}
	if len(aux.Payload) > 0 && string(aux.Payload) != "null" {
		if err := json.Unmarshal(aux.Payload, payload); err != nil {
			return fmt.Errorf("decode %s-%s payload: %w", op.Resource, op.Type, err)
		}
	}
	op.Payload = payload
	return nil
}

// QueueStatus counts queued operations by status
type QueueStatus struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Syncing    int `json:"syncing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
	Conflicted int `json:"conflicted"`
}

// Payload is the closed set of operation-specific data. Each
// resource/type pair has exactly one variant.
type Payload interface {
	Kind() (ResourceType, OperationType)
	Validate() error
}

// NewPayload returns an empty payload variant for the pair
func NewPayload(resource ResourceType, typ OperationType) (Payload, error) {
	switch resource {
	case ResourceRegion:
		switch typ {
		case OpCreate:
			return &RegionCreatePayload{}, nil
		case OpUpdate:
			return &RegionUpdatePayload{}, nil
		case OpDelete:
			return &RegionDeletePayload{}, nil
		case OpReorder:
			return &RegionReorderPayload{}, nil
		}
	case ResourceLayout:
		switch typ {
		case OpCreate:
			return &LayoutCreatePayload{}, nil
		case OpUpdate:
			return &LayoutUpdatePayload{}, nil
		case OpDelete:
			return &LayoutDeletePayload{}, nil
		}
	case ResourceTemplate:
		switch typ {
		case OpCreate:
			return &TemplateCreatePayload{}, nil
		case OpUpdate:
			return &TemplateUpdatePayload{}, nil
		case OpDelete:
			return &TemplateDeletePayload{}, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported operation %s-%s", ErrInvalidPayload, resource, typ)
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidPayload)
	}
	return nil
}

// region mutations are always scoped to a layout
func requireLayout(tenantID, layoutID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if layoutID == "" {
		return fmt.Errorf("%w: layout_id is required for region operations", ErrInvalidPayload)
	}
	return nil
}

type RegionCreatePayload struct {
	TenantID string  `json:"tenant_id"`
	LayoutID string  `json:"layout_id"`
	Region   *Region `json:"region"`
}

func (p *RegionCreatePayload) Kind() (ResourceType, OperationType) { return ResourceRegion, OpCreate }

func (p *RegionCreatePayload) Validate() error {
	if err := requireLayout(p.TenantID, p.LayoutID); err != nil {
		return err
	}
	if p.Region == nil {
		return fmt.Errorf("%w: region is required", ErrInvalidPayload)
	}
	return nil
}

type RegionUpdatePayload struct {
	TenantID        string       `json:"tenant_id"`
	LayoutID        string       `json:"layout_id"`
	Patch           *RegionPatch `json:"patch"`
	ExpectedVersion int64        `json:"expected_version"`
}

func (p *RegionUpdatePayload) Kind() (ResourceType, OperationType) { return ResourceRegion, OpUpdate }

func (p *RegionUpdatePayload) Validate() error {
	if err := requireLayout(p.TenantID, p.LayoutID); err != nil {
		return err
	}
	if p.Patch.IsEmpty() {
		return fmt.Errorf("%w: patch is empty", ErrInvalidPayload)
	}
	return nil
}

type RegionDeletePayload struct {
	TenantID        string `json:"tenant_id"`
	LayoutID        string `json:"layout_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (p *RegionDeletePayload) Kind() (ResourceType, OperationType) { return ResourceRegion, OpDelete }

func (p *RegionDeletePayload) Validate() error {
	return requireLayout(p.TenantID, p.LayoutID)
}

type RegionReorderPayload struct {
	TenantID  string           `json:"tenant_id"`
	LayoutID  string           `json:"layout_id"`
	Positions []RegionPosition `json:"positions"`
}

func (p *RegionReorderPayload) Kind() (ResourceType, OperationType) { return ResourceRegion, OpReorder }

func (p *RegionReorderPayload) Validate() error {
	if err := requireLayout(p.TenantID, p.LayoutID); err != nil {
		return err
	}
	if len(p.Positions) == 0 {
		return fmt.Errorf("%w: positions are required", ErrInvalidPayload)
	}
	return nil
}

type LayoutCreatePayload struct {
	TenantID string  `json:"tenant_id"`
	Layout   *Layout `json:"layout"`
}

func (p *LayoutCreatePayload) Kind() (ResourceType, OperationType) { return ResourceLayout, OpCreate }

func (p *LayoutCreatePayload) Validate() error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	if p.Layout == nil || p.Layout.Name == "" {
		return fmt.Errorf("%w: layout name is required", ErrInvalidPayload)
	}
	return nil
}

type LayoutUpdatePayload struct {
	TenantID        string       `json:"tenant_id"`
	Patch           *LayoutPatch `json:"patch"`
	ExpectedVersion int64        `json:"expected_version"`
}

func (p *LayoutUpdatePayload) Kind() (ResourceType, OperationType) { return ResourceLayout, OpUpdate }

func (p *LayoutUpdatePayload) Validate() error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	if p.Patch.IsEmpty() {
		return fmt.Errorf("%w: patch is empty", ErrInvalidPayload)
	}
	return nil
}

type LayoutDeletePayload struct {
	TenantID        string `json:"tenant_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (p *LayoutDeletePayload) Kind() (ResourceType, OperationType) { return ResourceLayout, OpDelete }

func (p *LayoutDeletePayload) Validate() error { return requireTenant(p.TenantID) }

type TemplateCreatePayload struct {
	TenantID string    `json:"tenant_id"`
	Template *Template `json:"template"`
}

func (p *TemplateCreatePayload) Kind() (ResourceType, OperationType) {
	return ResourceTemplate, OpCreate
}

func (p *TemplateCreatePayload) Validate() error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	if p.Template == nil || p.Template.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidPayload)
	}
	return nil
}

type TemplateUpdatePayload struct {
	TenantID        string         `json:"tenant_id"`
	Patch           *TemplatePatch `json:"patch"`
	ExpectedVersion int64          `json:"expected_version"`
}

func (p *TemplateUpdatePayload) Kind() (ResourceType, OperationType) {
	return ResourceTemplate, OpUpdate
}

func (p *TemplateUpdatePayload) Validate() error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	if p.Patch.IsEmpty() {
		return fmt.Errorf("%w: patch is empty", ErrInvalidPayload)
	}
	return nil
}

type TemplateDeletePayload struct {
	TenantID        string `json:"tenant_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (p *TemplateDeletePayload) Kind() (ResourceType, OperationType) {
	return ResourceTemplate, OpDelete
}

func (p *TemplateDeletePayload) Validate() error { return requireTenant(p.TenantID) }
