package model

import "time"

// Conflict is produced when a submission is rejected because the stored
// version moved on. It lives only for the duration of a resolution flow.
type Conflict struct {
	TenantID   string `json:"tenant_id"`
	LayoutID   string `json:"layout_id"`
	ResourceID string `json:"resource_id"`

	// LocalChanges is the change the caller intended to make
	LocalChanges *RegionPatch `json:"local_changes"`
	// LocalVersion is the caller's prior known state
	LocalVersion *Region `json:"local_version"`
	// ServerVersion is the current stored state
	ServerVersion *Region `json:"server_version"`

	ChangedFields []string  `json:"changed_fields"`
	DetectedAt    time.Time `json:"detected_at"`
}

// LocalIntended returns the local prior state with the local changes applied
func (c *Conflict) LocalIntended() *Region {
	base := c.LocalVersion
	if base == nil {
		base = c.ServerVersion
	}
	return c.LocalChanges.Apply(base)
}

// BulkOperationType names a bulk action
type BulkOperationType string

const (
	BulkMove      BulkOperationType = "move"
	BulkResize    BulkOperationType = "resize"
	BulkLock      BulkOperationType = "lock"
	BulkUnlock    BulkOperationType = "unlock"
	BulkDelete    BulkOperationType = "delete"
	BulkDuplicate BulkOperationType = "duplicate"
	BulkGroup     BulkOperationType = "group"
	BulkUngroup   BulkOperationType = "ungroup"
)

// Undoable reports whether enough state is recorded to invert the type
func (t BulkOperationType) Undoable() bool {
	switch t {
	case BulkMove, BulkResize, BulkLock, BulkUnlock, BulkGroup, BulkUngroup:
		return true
	}
	return false
}

// Direction of a bulk move or resize
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// BulkParams carries the arguments of a bulk action
type BulkParams struct {
	// Direction and Amount (grid units) drive move and resize
	Direction Direction `json:"direction,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	// DeltaRow and DeltaCol override Direction when either is non-zero
	DeltaRow int `json:"delta_row,omitempty"`
	DeltaCol int `json:"delta_col,omitempty"`
	// GroupID names the group for group; generated when empty
	GroupID string `json:"group_id,omitempty"`
}

// Delta resolves the params to a row/column delta
func (p BulkParams) Delta() (int, int) {
	if p.DeltaRow != 0 || p.DeltaCol != 0 {
		return p.DeltaRow, p.DeltaCol
	}
	amount := p.Amount
	if amount == 0 {
		amount = 1
	}
	switch p.Direction {
	case DirectionUp:
		return -amount, 0
	case DirectionDown:
		return amount, 0
	case DirectionLeft:
		return 0, -amount
	case DirectionRight:
		return 0, amount
	}
	return 0, 0
}

// BulkOperation is one entry in the bulk history
type BulkOperation struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	LayoutID  string            `json:"layout_id"`
	Type      BulkOperationType `json:"type"`
	RegionIDs []string          `json:"region_ids"`
	Data      BulkParams        `json:"data"`
	// PriorGroups records each region's group before a group/ungroup
	PriorGroups map[string]string `json:"prior_groups,omitempty"`
	// PriorLocks records each region's lock state before a lock/unlock
	PriorLocks map[string]bool `json:"prior_locks,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// RegionOutcome is the per-region result of a bulk action
type RegionOutcome struct {
	RegionID string  `json:"region_id"`
	Success  bool    `json:"success"`
	Region   *Region `json:"region,omitempty"`
	// Conflict is set when the region had moved on since the caller saw it
	Conflict *Conflict `json:"conflict,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     string    `json:"code,omitempty"`
}

// BulkResult aggregates per-region outcomes
type BulkResult struct {
	OperationID string            `json:"operation_id,omitempty"`
	Type        BulkOperationType `json:"type"`
	Outcomes    []RegionOutcome   `json:"outcomes"`
}

// Succeeded returns the ids that were applied
func (r *BulkResult) Succeeded() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Success {
			ids = append(ids, o.RegionID)
		}
	}
	return ids
}

// Failed returns the outcomes that were not applied
func (r *BulkResult) Failed() []RegionOutcome {
	var out []RegionOutcome
	for _, o := range r.Outcomes {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}
