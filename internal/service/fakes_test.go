package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/be-tax-approvals/internal/errors"
	"github.com/crestline/be-tax-approvals/internal/repository"
)

// fakeStore is an in-memory Store. Mutate applies copy-on-write semantics so
// a failed callback leaves the store untouched, matching the transactional
// contract of the Postgres implementation.
type fakeStore struct {
	mu          sync.Mutex
	routes      map[string]*repository.Route
	approvals   map[string]*repository.Approval
	steps       map[string]*repository.ApprovalStep
	delegations map[string]*repository.Delegation
	audit       []*repository.AuditEntry
	auditErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		routes:      make(map[string]*repository.Route),
		approvals:   make(map[string]*repository.Approval),
		steps:       make(map[string]*repository.ApprovalStep),
		delegations: make(map[string]*repository.Delegation),
	}
}

// ── routes ───────────────────────────────────────────────────────────────────

func (f *fakeStore) ResolveRoute(_ context.Context, workflowType string, routeName *string) (*repository.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *repository.Route
	for _, r := range f.routes {
		if r.WorkflowType != workflowType || !r.IsActive {
			continue
		}
		if routeName != nil && *routeName != "" {
			if r.Name != *routeName {
				continue
			}
		} else if !r.IsDefault {
			continue
		}
		if best == nil || r.Version > best.Version {
			best = r
		}
	}
	if best == nil {
		return nil, errors.NotFound("approval_route", workflowType)
	}
	cp := *best
	return &cp, nil
}

func (f *fakeStore) CreateRoute(_ context.Context, route *repository.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	route.ID = uuid.NewString()
	if route.Version == 0 {
		route.Version = 1
	}
	if route.IsDefault {
		for _, r := range f.routes {
			if r.WorkflowType == route.WorkflowType {
				r.IsDefault = false
			}
		}
	}
	cp := *route
	f.routes[route.ID] = &cp
	return nil
}

func (f *fakeStore) GetRoute(_ context.Context, id string) (*repository.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return nil, errors.NotFound("approval_route", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListRoutes(_ context.Context, workflowType *string, activeOnly bool) ([]*repository.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Route
	for _, r := range f.routes {
		if workflowType != nil && r.WorkflowType != *workflowType {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) UpdateRoute(_ context.Context, route *repository.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.routes[route.ID]
	if !ok {
		return errors.NotFound("approval_route", route.ID)
	}
	route.Version = existing.Version + 1
	cp := *route
	f.routes[route.ID] = &cp
	return nil
}

func (f *fakeStore) DeactivateRoute(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return errors.NotFound("approval_route", id)
	}
	r.IsActive = false
	r.IsDefault = false
	return nil
}

// ── approvals ────────────────────────────────────────────────────────────────

func (f *fakeStore) CreateApproval(_ context.Context, approval *repository.Approval, steps []*repository.ApprovalStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	approval.ID = uuid.NewString()
	approval.CreatedAt = time.Now()
	for _, s := range steps {
		s.ID = uuid.NewString()
		s.ApprovalID = approval.ID
	}
	if current := lowestPendingFake(steps); current != nil {
		approval.CurrentStepID = &current.ID
	}

	cp := *approval
	f.approvals[approval.ID] = &cp
	for _, s := range steps {
		scp := *s
		f.steps[s.ID] = &scp
	}
	return nil
}

func (f *fakeStore) GetApproval(_ context.Context, id string) (*repository.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[id]
	if !ok {
		return nil, errors.NotFound("approval", id)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetStep(_ context.Context, id string) (*repository.ApprovalStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[id]
	if !ok {
		return nil, errors.NotFound("approval_step", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListSteps(_ context.Context, approvalID string) ([]*repository.ApprovalStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stepsOfLocked(approvalID), nil
}

func (f *fakeStore) ListPendingForUser(_ context.Context, userID string, roles []string) ([]*repository.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	var out []*repository.Approval
	for _, a := range f.approvals {
		if a.Status != repository.ApprovalStatusPending {
			continue
		}
		for _, s := range f.stepsOfLocked(a.ID) {
			if s.Status != repository.StepStatusPending {
				continue
			}
			match := (s.AssignedToUserID != nil && *s.AssignedToUserID == userID) ||
				(s.DelegatedToUserID != nil && *s.DelegatedToUserID == userID)
			if !match && s.AssignedToRole != nil {
				_, match = roleSet[*s.AssignedToRole]
			}
			if match {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) Mutate(ctx context.Context, approvalID string, fn func(tx repository.ApprovalTx) error) error {
	f.mu.Lock()

	a, ok := f.approvals[approvalID]
	if !ok {
		f.mu.Unlock()
		return errors.NotFound("approval", approvalID)
	}

	acp := *a
	tx := &fakeTx{
		approval:   &acp,
		steps:      f.stepsOfLocked(approvalID),
		savedSteps: make(map[string]*repository.ApprovalStep),
	}

	// The callback may call other store methods (as the real transaction-backed
	// store allows), so the lock cannot be held while it runs.
	f.mu.Unlock()
	if err := fn(tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Commit explicit saves only; everything else is rolled back.
	for id, s := range tx.savedSteps {
		cp := *s
		f.steps[id] = &cp
	}
	if tx.savedApproval != nil {
		cp := *tx.savedApproval
		f.approvals[approvalID] = &cp
	}
	return nil
}

func (f *fakeStore) stepsOfLocked(approvalID string) []*repository.ApprovalStep {
	var out []*repository.ApprovalStep
	for _, s := range f.steps {
		if s.ApprovalID == approvalID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

type fakeTx struct {
	approval      *repository.Approval
	steps         []*repository.ApprovalStep
	savedSteps    map[string]*repository.ApprovalStep
	savedApproval *repository.Approval
}

func (t *fakeTx) Approval() *repository.Approval        { return t.approval }
func (t *fakeTx) Steps() []*repository.ApprovalStep     { return t.steps }
func (t *fakeTx) SaveStep(_ context.Context, s *repository.ApprovalStep) error {
	t.savedSteps[s.ID] = s
	return nil
}
func (t *fakeTx) SaveApproval(_ context.Context, a *repository.Approval) error {
	t.savedApproval = a
	return nil
}

// ── delegations ──────────────────────────────────────────────────────────────

func (f *fakeStore) CreateDelegation(_ context.Context, d *repository.Delegation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now()
	cp := *d
	f.delegations[d.ID] = &cp
	return nil
}

func (f *fakeStore) FindActiveDelegation(_ context.Context, toUserID, fromUserID, workflowType string, now time.Time) (*repository.Delegation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.delegations {
		if d.Covers(fromUserID, toUserID, workflowType, now) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListActiveDelegationsTo(_ context.Context, toUserID string, now time.Time) ([]*repository.Delegation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Delegation
	for _, d := range f.delegations {
		if d.ToUserID != toUserID || !d.IsActive {
			continue
		}
		if now.Before(d.StartDate) {
			continue
		}
		if d.EndDate != nil && now.After(*d.EndDate) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) ListDelegations(_ context.Context, userID string) ([]*repository.Delegation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Delegation
	for _, d := range f.delegations {
		if d.FromUserID == userID || d.ToUserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeactivateDelegation(_ context.Context, id, fromUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.delegations[id]
	if !ok || d.FromUserID != fromUserID {
		return errors.NotFound("delegation", id)
	}
	d.IsActive = false
	return nil
}

// ── audit ────────────────────────────────────────────────────────────────────

func (f *fakeStore) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	entry.ID = uuid.NewString()
	entry.PerformedAt = time.Now()
	cp := *entry
	f.audit = append(f.audit, &cp)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, approvalID string) ([]*repository.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range f.audit {
		if e.ApprovalID == approvalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func lowestPendingFake(steps []*repository.ApprovalStep) *repository.ApprovalStep {
	var current *repository.ApprovalStep
	for _, s := range steps {
		if s.Status != repository.StepStatusPending {
			continue
		}
		if current == nil || s.StepOrder < current.StepOrder {
			current = s
		}
	}
	return current
}

// ── identity / events fakes ───────────────────────────────────────────────────

type fakeIdentity struct {
	users      map[string]string   // reference → user ID
	roles      map[string][]string // user ID → roles
	resolveErr error
	rolesErr   error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		users: make(map[string]string),
		roles: make(map[string][]string),
	}
}

func (f *fakeIdentity) ResolveUser(_ context.Context, reference string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.users[reference], nil
}

func (f *fakeIdentity) GetUserRoles(_ context.Context, userID string) ([]string, error) {
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles[userID], nil
}

type publishedEvent struct {
	eventType  string
	approvalID string
	actorID    string
	recipients []string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeEvents) PublishApprovalEvent(_ context.Context, eventType string, approval *repository.Approval, actorID string, recipients []string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{
		eventType:  eventType,
		approvalID: approval.ID,
		actorID:    actorID,
		recipients: recipients,
	})
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.eventType
	}
	return out
}
