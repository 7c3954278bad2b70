package repository

import (
	"context"
	"time"

	"github.com/crestline/be-tax-approvals/internal/database"
)

// Store composes the per-aggregate repositories into the persistence gateway
// consumed by the service layer.
type Store struct {
	routes      *RouteRepository
	approvals   *ApprovalRepository
	delegations *DelegationRepository
	audit       *AuditRepository
}

// NewStore builds a Store over one database handle.
func NewStore(db *database.DB) *Store {
	return &Store{
		routes:      NewRouteRepository(db),
		approvals:   NewApprovalRepository(db),
		delegations: NewDelegationRepository(db),
		audit:       NewAuditRepository(db),
	}
}

// ── routes ───────────────────────────────────────────────────────────────────

func (s *Store) ResolveRoute(ctx context.Context, workflowType string, routeName *string) (*Route, error) {
	return s.routes.ResolveActive(ctx, workflowType, routeName)
}

func (s *Store) CreateRoute(ctx context.Context, route *Route) error {
	return s.routes.Create(ctx, route)
}

func (s *Store) GetRoute(ctx context.Context, id string) (*Route, error) {
	return s.routes.GetByID(ctx, id)
}

func (s *Store) ListRoutes(ctx context.Context, workflowType *string, activeOnly bool) ([]*Route, error) {
	return s.routes.List(ctx, workflowType, activeOnly)
}

func (s *Store) UpdateRoute(ctx context.Context, route *Route) error {
	return s.routes.Update(ctx, route)
}

func (s *Store) DeactivateRoute(ctx context.Context, id string) error {
	return s.routes.Deactivate(ctx, id)
}

// ── approvals ────────────────────────────────────────────────────────────────

func (s *Store) CreateApproval(ctx context.Context, approval *Approval, steps []*ApprovalStep) error {
	return s.approvals.Create(ctx, approval, steps)
}

func (s *Store) GetApproval(ctx context.Context, id string) (*Approval, error) {
	return s.approvals.GetByID(ctx, id)
}

func (s *Store) GetStep(ctx context.Context, id string) (*ApprovalStep, error) {
	return s.approvals.GetStep(ctx, id)
}

func (s *Store) ListSteps(ctx context.Context, approvalID string) ([]*ApprovalStep, error) {
	return s.approvals.ListSteps(ctx, approvalID)
}

func (s *Store) ListPendingForUser(ctx context.Context, userID string, roles []string) ([]*Approval, error) {
	return s.approvals.ListPendingForUser(ctx, userID, roles)
}

func (s *Store) Mutate(ctx context.Context, approvalID string, fn func(tx ApprovalTx) error) error {
	return s.approvals.Mutate(ctx, approvalID, fn)
}

// ── delegations ──────────────────────────────────────────────────────────────

func (s *Store) CreateDelegation(ctx context.Context, d *Delegation) error {
	return s.delegations.Create(ctx, d)
}

func (s *Store) FindActiveDelegation(ctx context.Context, toUserID, fromUserID, workflowType string, now time.Time) (*Delegation, error) {
	return s.delegations.FindActive(ctx, toUserID, fromUserID, workflowType, now)
}

func (s *Store) ListActiveDelegationsTo(ctx context.Context, toUserID string, now time.Time) ([]*Delegation, error) {
	return s.delegations.ListActiveTo(ctx, toUserID, now)
}

func (s *Store) ListDelegations(ctx context.Context, userID string) ([]*Delegation, error) {
	return s.delegations.ListForUser(ctx, userID)
}

func (s *Store) DeactivateDelegation(ctx context.Context, id, fromUserID string) error {
	return s.delegations.Deactivate(ctx, id, fromUserID)
}

// ── audit ────────────────────────────────────────────────────────────────────

func (s *Store) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return s.audit.Append(ctx, entry)
}

func (s *Store) ListAudit(ctx context.Context, approvalID string) ([]*AuditEntry, error) {
	return s.audit.ListByApproval(ctx, approvalID)
}
