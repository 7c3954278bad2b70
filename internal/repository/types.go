package repository

import (
	"time"

	"github.com/crestline/be-tax-approvals/internal/condition"
)

// ── Domain types for approval routing ─────────────────────────────────────────

// Approval statuses. Both terminal states are final: no step mutation is
// permitted once an approval leaves pending.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Step statuses.
const (
	StepStatusPending  = "pending"
	StepStatusApproved = "approved"
	StepStatusRejected = "rejected"
)

// Step template types.
const (
	StepTypeUser            = "USER"
	StepTypeRole            = "ROLE"
	StepTypeConditionalUser = "CONDITIONAL_USER"
)

// StepTemplate is one entry in a route's steps JSONB array. Templates are
// expanded into concrete approval steps at approval-creation time.
type StepTemplate struct {
	StepOrder          int                  `json:"step_order"`
	StepType           string               `json:"step_type"`
	IsRequired         *bool                `json:"is_required,omitempty"` // nil = required
	AssignedToRole     *string              `json:"assigned_to_role,omitempty"`
	AssignedToUserPath *string              `json:"assigned_to_user_path,omitempty"`
	Condition          *condition.Predicate `json:"condition,omitempty"`
}

// Required reports whether the template produces a required step.
// Omitted in configuration means required.
func (t StepTemplate) Required() bool {
	return t.IsRequired == nil || *t.IsRequired
}

// Route is a named, versioned routing configuration for one workflow type.
// Routes are read at approval-creation time only; in-flight approvals copy
// what they need so later route edits never change their semantics.
type Route struct {
	ID               string         `json:"id"`
	WorkflowType     string         `json:"workflow_type"`
	Name             string         `json:"name"`
	Version          int            `json:"version"`
	IsDefault        bool           `json:"is_default"`
	IsActive         bool           `json:"is_active"`
	RequiresAllSteps bool           `json:"requires_all_steps"`
	Steps            []StepTemplate `json:"steps"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Approval is one instantiated sign-off process for a business object,
// identified by its (workflow_type, workflow_id) pair.
type Approval struct {
	ID                string     `json:"id"`
	WorkflowType      string     `json:"workflow_type"`
	WorkflowID        string     `json:"workflow_id"`
	RouteID           *string    `json:"route_id,omitempty"`
	Title             string     `json:"title"`
	Description       *string    `json:"description,omitempty"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	RequestedBy       string     `json:"requested_by"`
	RequiresAllSteps  bool       `json:"requires_all_steps"`
	CurrentStepID     *string    `json:"current_step_id,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletedBy       *string    `json:"completed_by,omitempty"`
	ResolutionComment *string    `json:"resolution_comment,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ApprovalStep is a single materialized, independently actionable unit of
// sign-off within an approval.
type ApprovalStep struct {
	ID                string     `json:"id"`
	ApprovalID        string     `json:"approval_id"`
	StepOrder         int        `json:"step_order"`
	StepType          string     `json:"step_type"`
	IsRequired        bool       `json:"is_required"`
	AssignedToUserID  *string    `json:"assigned_to_user_id,omitempty"`
	AssignedToRole    *string    `json:"assigned_to_role,omitempty"`
	Status            string     `json:"status"`
	ApprovedBy        *string    `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	Comment           *string    `json:"comment,omitempty"`
	IsDelegated       bool       `json:"is_delegated"`
	DelegatedToUserID *string    `json:"delegated_to_user_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Delegation is a time-bounded substitute-approver grant. A nil WorkflowType
// covers all workflow types; a nil EndDate is open-ended.
type Delegation struct {
	ID           string     `json:"id"`
	FromUserID   string     `json:"from_user_id"`
	ToUserID     string     `json:"to_user_id"`
	WorkflowType *string    `json:"workflow_type,omitempty"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	IsActive     bool       `json:"is_active"`
	Reason       *string    `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Covers reports whether the delegation authorizes toUserID to act for
// fromUserID on the given workflow type at the given instant.
func (d *Delegation) Covers(fromUserID, toUserID, workflowType string, now time.Time) bool {
	if !d.IsActive || d.FromUserID != fromUserID || d.ToUserID != toUserID {
		return false
	}
	if d.WorkflowType != nil && *d.WorkflowType != workflowType {
		return false
	}
	if now.Before(d.StartDate) {
		return false
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return false
	}
	return true
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID          string         `json:"id"`
	ApprovalID  string         `json:"approval_id"`
	StepID      *string        `json:"step_id,omitempty"`
	Action      string         `json:"action"` // requested | approved | rejected | delegated | reassigned
	PerformedBy string         `json:"performed_by"`
	PerformedAt time.Time      `json:"performed_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
