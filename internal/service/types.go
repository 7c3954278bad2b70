package service

import (
	"context"
	"time"

	"github.com/crestline/be-tax-approvals/internal/repository"
)

// Store is the persistence gateway the approval engine is constructed with.
// The production implementation is repository.Store; tests inject an
// in-memory fake.
type Store interface {
	// Routes.
	ResolveRoute(ctx context.Context, workflowType string, routeName *string) (*repository.Route, error)
	CreateRoute(ctx context.Context, route *repository.Route) error
	GetRoute(ctx context.Context, id string) (*repository.Route, error)
	ListRoutes(ctx context.Context, workflowType *string, activeOnly bool) ([]*repository.Route, error)
	UpdateRoute(ctx context.Context, route *repository.Route) error
	DeactivateRoute(ctx context.Context, id string) error

	// Approvals. CreateApproval persists the approval and all steps
	// atomically; Mutate runs fn under a lock scoped to the approval.
	CreateApproval(ctx context.Context, approval *repository.Approval, steps []*repository.ApprovalStep) error
	GetApproval(ctx context.Context, id string) (*repository.Approval, error)
	GetStep(ctx context.Context, id string) (*repository.ApprovalStep, error)
	ListSteps(ctx context.Context, approvalID string) ([]*repository.ApprovalStep, error)
	ListPendingForUser(ctx context.Context, userID string, roles []string) ([]*repository.Approval, error)
	Mutate(ctx context.Context, approvalID string, fn func(tx repository.ApprovalTx) error) error

	// Delegations.
	CreateDelegation(ctx context.Context, d *repository.Delegation) error
	FindActiveDelegation(ctx context.Context, toUserID, fromUserID, workflowType string, now time.Time) (*repository.Delegation, error)
	ListActiveDelegationsTo(ctx context.Context, toUserID string, now time.Time) ([]*repository.Delegation, error)
	ListDelegations(ctx context.Context, userID string) ([]*repository.Delegation, error)
	DeactivateDelegation(ctx context.Context, id, fromUserID string) error

	// Audit.
	AppendAudit(ctx context.Context, entry *repository.AuditEntry) error
	ListAudit(ctx context.Context, approvalID string) ([]*repository.AuditEntry, error)
}

// IdentityResolver maps employee/role references to concrete user identities.
// Implemented by the platform directory service client.
type IdentityResolver interface {
	// ResolveUser maps an employee or external reference to a user ID.
	// An empty result with nil error means the reference resolved to nobody.
	ResolveUser(ctx context.Context, reference string) (string, error)
	// GetUserRoles returns the role names a user holds.
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// EventPublisher is notified after every committed state transition. It must
// never block or fail the transition; implementations log and move on.
type EventPublisher interface {
	PublishApprovalEvent(ctx context.Context, eventType string, approval *repository.Approval, actorID string, recipients []string, payload map[string]any)
}

// ── request / response types ──────────────────────────────────────────────────

// CreateApprovalConfig is supplied by a business-domain collaborator to start
// a routed sign-off for one of its objects.
type CreateApprovalConfig struct {
	WorkflowType string         `json:"workflow_type"`
	WorkflowID   string         `json:"workflow_id"`
	Title        string         `json:"title"`
	Description  *string        `json:"description,omitempty"`
	RequestedBy  string         `json:"requested_by"`
	Priority     string         `json:"priority,omitempty"`
	RouteName    *string        `json:"route_name,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// ApprovalActionResult is returned from ApproveStep / RejectStep.
type ApprovalActionResult struct {
	Success    bool                     `json:"success"`
	Approval   *repository.Approval     `json:"approval"`
	NextStep   *repository.ApprovalStep `json:"next_step,omitempty"`
	IsComplete bool                     `json:"is_complete"`
}

// ApprovalDetail pairs an approval with its materialized steps.
type ApprovalDetail struct {
	Approval *repository.Approval       `json:"approval"`
	Steps    []*repository.ApprovalStep `json:"steps"`
}

// DelegateRequest creates a substitute-approver grant.
type DelegateRequest struct {
	ToUserID     string     `json:"to_user_id"`
	WorkflowType *string    `json:"workflow_type,omitempty"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Reason       *string    `json:"reason,omitempty"`
}

// UserApprovalsResponse lists an approver's (and their delegators')
// outstanding work, grouped by workflow type.
type UserApprovalsResponse struct {
	Approvals             []*repository.Approval            `json:"approvals"`
	GroupedByWorkflowType map[string][]*repository.Approval `json:"grouped_by_workflow_type"`
	TotalCount            int                               `json:"total_count"`
}
