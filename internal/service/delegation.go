package service

import (
	"context"

	"github.com/crestline/be-tax-approvals/internal/errors"
	"github.com/crestline/be-tax-approvals/internal/repository"
)

// authorize decides whether userID may act on a step. Checks run in order:
// direct assignee, previously exercised delegation, role membership for
// role-routed steps, then a live substitute-approver search. The first
// successful delegation lookup stamps the step inside the same transaction
// as the approve/reject write, so the mark can never be lost to a race.
func (s *ApprovalService) authorize(ctx context.Context, tx repository.ApprovalTx, approval *repository.Approval, step *repository.ApprovalStep, userID string) error {
	if step.AssignedToUserID != nil && *step.AssignedToUserID == userID {
		return nil
	}

	if step.IsDelegated && step.DelegatedToUserID != nil && *step.DelegatedToUserID == userID {
		return nil
	}

	// Role-routed steps: any holder of the role may act.
	if step.AssignedToRole != nil {
		roles, err := s.identity.GetUserRoles(ctx, userID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve roles for acting user")
		}
		for _, role := range roles {
			if role == *step.AssignedToRole {
				return nil
			}
		}
	}

	// Substitute-approver grant from the step's current assignee.
	if step.AssignedToUserID != nil {
		delegation, err := s.store.FindActiveDelegation(ctx, userID, *step.AssignedToUserID, approval.WorkflowType, s.now())
		if err != nil {
			return err
		}
		if delegation != nil {
			step.IsDelegated = true
			step.DelegatedToUserID = &userID
			if err := tx.SaveStep(ctx, step); err != nil {
				return err
			}
			s.log.Info().
				Str("step_id", step.ID).
				Str("delegation_id", delegation.ID).
				Str("from_user_id", delegation.FromUserID).
				Str("to_user_id", userID).
				Msg("Delegated access exercised")
			return nil
		}
	}

	return errors.Forbidden("user is not assigned, role-authorized, or delegated for this approval step")
}

// ── delegation management ─────────────────────────────────────────────────────

// DelegateApprovals creates a time-bounded substitute-approver grant from
// fromUserID to the requested user, optionally scoped to one workflow type.
func (s *ApprovalService) DelegateApprovals(ctx context.Context, fromUserID string, req *DelegateRequest) (*repository.Delegation, error) {
	if fromUserID == "" {
		return nil, errors.InvalidInput("from_user_id", "delegating user is required")
	}
	if req.ToUserID == "" {
		return nil, errors.InvalidInput("to_user_id", "substitute user is required")
	}
	if req.ToUserID == fromUserID {
		return nil, errors.InvalidInput("to_user_id", "cannot delegate to yourself")
	}
	if req.StartDate.IsZero() {
		return nil, errors.InvalidInput("start_date", "start date is required")
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return nil, errors.InvalidInput("end_date", "end date must be after start date")
	}

	delegation := &repository.Delegation{
		FromUserID:   fromUserID,
		ToUserID:     req.ToUserID,
		WorkflowType: req.WorkflowType,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		IsActive:     true,
		Reason:       req.Reason,
	}
	if err := s.store.CreateDelegation(ctx, delegation); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("delegation_id", delegation.ID).
		Str("from_user_id", fromUserID).
		Str("to_user_id", req.ToUserID).
		Msg("Delegation created")

	return delegation, nil
}

// RevokeDelegation deactivates a grant. Only the granting user may revoke.
func (s *ApprovalService) RevokeDelegation(ctx context.Context, delegationID, fromUserID string) error {
	return s.store.DeactivateDelegation(ctx, delegationID, fromUserID)
}

// ListDelegations returns grants the user has given or received.
func (s *ApprovalService) ListDelegations(ctx context.Context, userID string) ([]*repository.Delegation, error) {
	return s.store.ListDelegations(ctx, userID)
}
