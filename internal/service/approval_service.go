package service

import (
	"context"
	"fmt"
	"time"

	"github.com/crestline/be-tax-approvals/internal/errors"
	"github.com/crestline/be-tax-approvals/internal/logger"
	"github.com/crestline/be-tax-approvals/internal/repository"
)

// Event types published after committed transitions.
const (
	EventApprovalRequested  = "approval_requested"
	EventStepApproved       = "step_approved"
	EventApprovalApproved   = "approval_approved"
	EventApprovalRejected   = "approval_rejected"
	EventApprovalReassigned = "approval_reassigned"
	EventDelegationCreated  = "delegation_created"
)

const defaultPriority = "normal"

// ApprovalService is the workflow-agnostic approval engine: it expands a
// routing configuration into steps, owns the approval/step lifecycle, and
// authorizes actors directly, by role, or through delegation.
type ApprovalService struct {
	store    Store
	identity IdentityResolver
	events   EventPublisher
	log      *logger.Logger

	// now is the clock; injectable so delegation windows are testable.
	now func() time.Time
}

// NewApprovalService creates an ApprovalService with explicit dependencies.
func NewApprovalService(store Store, identity IdentityResolver, events EventPublisher, log *logger.Logger) *ApprovalService {
	return &ApprovalService{
		store:    store,
		identity: identity,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// ── creation ──────────────────────────────────────────────────────────────────

// CreateApproval resolves the route for the workflow type, materializes its
// steps against the supplied context, and persists the approval and all steps
// atomically. The lowest-order pending step becomes the current step.
func (s *ApprovalService) CreateApproval(ctx context.Context, cfg *CreateApprovalConfig) (*repository.Approval, error) {
	if cfg.WorkflowType == "" {
		return nil, errors.InvalidInput("workflow_type", "workflow type is required")
	}
	if cfg.WorkflowID == "" {
		return nil, errors.InvalidInput("workflow_id", "workflow id is required")
	}
	if cfg.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if cfg.RequestedBy == "" {
		return nil, errors.InvalidInput("requested_by", "requesting user is required")
	}

	route, err := s.store.ResolveRoute(ctx, cfg.WorkflowType, cfg.RouteName)
	if err != nil {
		return nil, err
	}

	steps := s.buildSteps(ctx, route, cfg.Context)

	priority := cfg.Priority
	if priority == "" {
		priority = defaultPriority
	}

	approval := &repository.Approval{
		WorkflowType: cfg.WorkflowType,
		WorkflowID:   cfg.WorkflowID,
		RouteID:      &route.ID,
		Title:        cfg.Title,
		Description:  cfg.Description,
		Status:       repository.ApprovalStatusPending,
		Priority:     priority,
		RequestedBy:  cfg.RequestedBy,
		// Copied so later route edits cannot change in-flight semantics.
		RequiresAllSteps: route.RequiresAllSteps,
	}

	if len(steps) == 0 {
		// Every template was conditioned away. With all-steps semantics the
		// completion policy is vacuously satisfied; with any-of semantics
		// nothing could ever approve it, which is a routing misconfiguration.
		if !route.RequiresAllSteps {
			return nil, errors.Configuration(fmt.Sprintf(
				"route %q materialized no steps for workflow %s/%s and requires at least one approval",
				route.Name, cfg.WorkflowType, cfg.WorkflowID))
		}
		now := s.now().UTC()
		comment := "auto-approved: no applicable steps"
		approval.Status = repository.ApprovalStatusApproved
		approval.CompletedAt = &now
		approval.CompletedBy = &cfg.RequestedBy
		approval.ResolutionComment = &comment
	}

	if err := s.store.CreateApproval(ctx, approval, steps); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", approval.ID).
		Str("workflow_type", approval.WorkflowType).
		Str("workflow_id", approval.WorkflowID).
		Str("route_id", route.ID).
		Int("steps", len(steps)).
		Msg("Approval created")

	s.appendAudit(ctx, &repository.AuditEntry{
		ApprovalID:  approval.ID,
		Action:      "requested",
		PerformedBy: cfg.RequestedBy,
		Metadata: map[string]any{
			"workflow_type": cfg.WorkflowType,
			"workflow_id":   cfg.WorkflowID,
			"route_id":      route.ID,
			"route_version": route.Version,
			"steps":         len(steps),
		},
	})
	s.publish(ctx, EventApprovalRequested, approval, cfg.RequestedBy, firstAssignees(steps), nil)

	return approval, nil
}

// ── approve ───────────────────────────────────────────────────────────────────

// ApproveStep records an approval on one step and re-evaluates the parent
// approval: completion policy, then current-step advancement. The whole
// read-modify-write runs under a lock scoped to the approval.
func (s *ApprovalService) ApproveStep(ctx context.Context, stepID, userID string, comment *string) (*ApprovalActionResult, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "acting user is required")
	}

	pre, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var result *ApprovalActionResult
	err = s.store.Mutate(ctx, pre.ApprovalID, func(tx repository.ApprovalTx) error {
		approval := tx.Approval()
		if approval.Status != repository.ApprovalStatusPending {
			return errors.Newf(errors.ErrCodeConflict,
				"approval is already %s; no further actions are permitted", approval.Status)
		}

		step := findStep(tx.Steps(), stepID)
		if step == nil {
			return errors.NotFound("approval_step", stepID)
		}
		if step.Status != repository.StepStatusPending {
			return errors.Newf(errors.ErrCodeConflict,
				"step %d is not pending (status: %s)", step.StepOrder, step.Status)
		}

		if err := s.authorize(ctx, tx, approval, step, userID); err != nil {
			return err
		}

		now := s.now().UTC()
		step.Status = repository.StepStatusApproved
		step.ApprovedBy = &userID
		step.ApprovedAt = &now
		step.Comment = comment
		if err := tx.SaveStep(ctx, step); err != nil {
			return err
		}

		complete := approvalComplete(approval.RequiresAllSteps, tx.Steps())
		next := nextPendingStep(tx.Steps())

		if complete {
			approval.Status = repository.ApprovalStatusApproved
			approval.CompletedAt = &now
			approval.CompletedBy = &userID
			approval.ResolutionComment = comment
			approval.CurrentStepID = nil
		} else if next == nil {
			// Nothing pending but the policy is unsatisfied: the step set can
			// never complete. Roll back and surface to operators.
			return errors.Configuration(fmt.Sprintf(
				"approval %s has no pending steps left but its completion policy is not satisfied; routing configuration needs attention",
				approval.ID))
		} else {
			approval.CurrentStepID = &next.ID
		}
		if err := tx.SaveApproval(ctx, approval); err != nil {
			return err
		}

		result = &ApprovalActionResult{
			Success:    true,
			Approval:   approval,
			NextStep:   next,
			IsComplete: complete,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", result.Approval.ID).
		Str("step_id", stepID).
		Str("user_id", userID).
		Bool("complete", result.IsComplete).
		Msg("Step approved")

	s.appendAudit(ctx, &repository.AuditEntry{
		ApprovalID:  result.Approval.ID,
		StepID:      &stepID,
		Action:      "approved",
		PerformedBy: userID,
		Metadata:    map[string]any{"complete": result.IsComplete},
	})
	if result.IsComplete {
		s.publish(ctx, EventApprovalApproved, result.Approval, userID,
			[]string{result.Approval.RequestedBy}, nil)
	} else {
		s.publish(ctx, EventStepApproved, result.Approval, userID,
			stepAssignees(result.NextStep), nil)
	}

	return result, nil
}

// ── reject ────────────────────────────────────────────────────────────────────

// RejectStep records a rejection on one step and immediately vetoes the whole
// approval, regardless of the state of any other step. This asymmetry with
// approve is deliberate: one rejection ends the sign-off.
func (s *ApprovalService) RejectStep(ctx context.Context, stepID, userID, comment string) (*ApprovalActionResult, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "acting user is required")
	}
	if comment == "" {
		return nil, errors.InvalidInput("comment", "rejection comment is required")
	}

	pre, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var result *ApprovalActionResult
	err = s.store.Mutate(ctx, pre.ApprovalID, func(tx repository.ApprovalTx) error {
		approval := tx.Approval()
		if approval.Status != repository.ApprovalStatusPending {
			return errors.Newf(errors.ErrCodeConflict,
				"approval is already %s; no further actions are permitted", approval.Status)
		}

		step := findStep(tx.Steps(), stepID)
		if step == nil {
			return errors.NotFound("approval_step", stepID)
		}
		if step.Status != repository.StepStatusPending {
			return errors.Newf(errors.ErrCodeConflict,
				"step %d is not pending (status: %s)", step.StepOrder, step.Status)
		}

		if err := s.authorize(ctx, tx, approval, step, userID); err != nil {
			return err
		}

		now := s.now().UTC()
		step.Status = repository.StepStatusRejected
		step.ApprovedBy = &userID
		step.ApprovedAt = &now
		step.Comment = &comment
		if err := tx.SaveStep(ctx, step); err != nil {
			return err
		}

		approval.Status = repository.ApprovalStatusRejected
		approval.CompletedAt = &now
		approval.CompletedBy = &userID
		approval.ResolutionComment = &comment
		approval.CurrentStepID = nil
		if err := tx.SaveApproval(ctx, approval); err != nil {
			return err
		}

		result = &ApprovalActionResult{
			Success:    true,
			Approval:   approval,
			NextStep:   nil,
			IsComplete: false,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", result.Approval.ID).
		Str("step_id", stepID).
		Str("user_id", userID).
		Msg("Step rejected; approval vetoed")

	s.appendAudit(ctx, &repository.AuditEntry{
		ApprovalID:  result.Approval.ID,
		StepID:      &stepID,
		Action:      "rejected",
		PerformedBy: userID,
		Metadata:    map[string]any{"comment": comment},
	})
	s.publish(ctx, EventApprovalRejected, result.Approval, userID,
		[]string{result.Approval.RequestedBy}, map[string]any{"comment": comment})

	return result, nil
}

// ── reassign ──────────────────────────────────────────────────────────────────

// ReassignStep manually corrects a step's assignee. This is the recovery path
// for steps whose assignee resolution failed at creation time. Any previously
// exercised delegation mark is cleared.
func (s *ApprovalService) ReassignStep(ctx context.Context, stepID, newUserID, actedBy string) error {
	if newUserID == "" {
		return errors.InvalidInput("user_id", "new assignee is required")
	}

	pre, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}

	err = s.store.Mutate(ctx, pre.ApprovalID, func(tx repository.ApprovalTx) error {
		approval := tx.Approval()
		if approval.Status != repository.ApprovalStatusPending {
			return errors.Newf(errors.ErrCodeConflict,
				"approval is already %s; no further actions are permitted", approval.Status)
		}

		step := findStep(tx.Steps(), stepID)
		if step == nil {
			return errors.NotFound("approval_step", stepID)
		}
		if step.Status != repository.StepStatusPending {
			return errors.Newf(errors.ErrCodeConflict,
				"step %d is not pending (status: %s)", step.StepOrder, step.Status)
		}

		step.AssignedToUserID = &newUserID
		step.IsDelegated = false
		step.DelegatedToUserID = nil
		return tx.SaveStep(ctx, step)
	})
	if err != nil {
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		ApprovalID:  pre.ApprovalID,
		StepID:      &stepID,
		Action:      "reassigned",
		PerformedBy: actedBy,
		Metadata:    map[string]any{"assigned_to": newUserID},
	})

	approval, err := s.store.GetApproval(ctx, pre.ApprovalID)
	if err == nil {
		s.publish(ctx, EventApprovalReassigned, approval, actedBy, []string{newUserID}, nil)
	}
	return nil
}

// ── queries ───────────────────────────────────────────────────────────────────

// GetApproval returns an approval together with its steps.
func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*ApprovalDetail, error) {
	approval, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ApprovalDetail{Approval: approval, Steps: steps}, nil
}

// GetUserApprovals returns the outstanding work queue for a user: approvals
// with pending steps assigned to them directly, through a role they hold, or
// through an active delegation from another approver.
func (s *ApprovalService) GetUserApprovals(ctx context.Context, userID string) (*UserApprovalsResponse, error) {
	roles, err := s.identity.GetUserRoles(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).
			Msg("Could not resolve roles for work queue; role-assigned steps will be missing")
		roles = nil
	}

	approvals, err := s.store.ListPendingForUser(ctx, userID, roles)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(approvals))
	for _, a := range approvals {
		seen[a.ID] = struct{}{}
	}

	// Fold in the delegators' queues, honoring per-type delegation scope.
	delegations, err := s.store.ListActiveDelegationsTo(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	for _, d := range delegations {
		delegated, err := s.store.ListPendingForUser(ctx, d.FromUserID, nil)
		if err != nil {
			return nil, err
		}
		for _, a := range delegated {
			if d.WorkflowType != nil && *d.WorkflowType != a.WorkflowType {
				continue
			}
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			approvals = append(approvals, a)
		}
	}

	grouped := make(map[string][]*repository.Approval)
	for _, a := range approvals {
		grouped[a.WorkflowType] = append(grouped[a.WorkflowType], a)
	}

	return &UserApprovalsResponse{
		Approvals:             approvals,
		GroupedByWorkflowType: grouped,
		TotalCount:            len(approvals),
	}, nil
}

// GetAuditTrail returns the immutable audit log for an approval.
func (s *ApprovalService) GetAuditTrail(ctx context.Context, approvalID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetApproval(ctx, approvalID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, approvalID)
}

// ── lifecycle helpers ─────────────────────────────────────────────────────────

// approvalComplete evaluates the completion policy copied onto the approval:
// all required steps approved, or any one required step approved. Steps
// conditioned away at creation were never materialized, so they cannot block
// an all-required check.
func approvalComplete(requiresAll bool, steps []*repository.ApprovalStep) bool {
	if requiresAll {
		for _, s := range steps {
			if s.IsRequired && s.Status != repository.StepStatusApproved {
				return false
			}
		}
		return true
	}
	for _, s := range steps {
		if s.IsRequired && s.Status == repository.StepStatusApproved {
			return true
		}
	}
	return false
}

// nextPendingStep returns the pending step with the smallest step order.
// Computed independently of completion: an any-of approval may complete while
// lower-priority optional steps remain pending forever.
func nextPendingStep(steps []*repository.ApprovalStep) *repository.ApprovalStep {
	var next *repository.ApprovalStep
	for _, s := range steps {
		if s.Status != repository.StepStatusPending {
			continue
		}
		if next == nil || s.StepOrder < next.StepOrder {
			next = s
		}
	}
	return next
}

func findStep(steps []*repository.ApprovalStep, id string) *repository.ApprovalStep {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// firstAssignees returns the assignee of the lowest-order pending step, for
// the initial work notification.
func firstAssignees(steps []*repository.ApprovalStep) []string {
	return stepAssignees(nextPendingStep(steps))
}

func stepAssignees(step *repository.ApprovalStep) []string {
	if step == nil {
		return nil
	}
	if step.DelegatedToUserID != nil {
		return []string{*step.DelegatedToUserID}
	}
	if step.AssignedToUserID != nil {
		return []string{*step.AssignedToUserID}
	}
	return nil
}

// appendAudit writes an audit entry and logs a warning on failure. Audit is
// informational and never fails a transition.
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("approval_id", entry.ApprovalID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// publish forwards a transition event to the publisher, if one is wired.
func (s *ApprovalService) publish(ctx context.Context, eventType string, approval *repository.Approval, actorID string, recipients []string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.PublishApprovalEvent(ctx, eventType, approval, actorID, recipients, payload)
}
