package repository

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/crestline/be-tax-approvals/internal/database"
	"github.com/crestline/be-tax-approvals/internal/errors"
)

// ApprovalTx is the unit of work handed to callers of
// ApprovalRepository.Mutate. The backing transaction holds a row lock on the
// approval, so Approval() and Steps() are a stable snapshot: no concurrent
// approve/reject on the same approval can interleave until commit.
type ApprovalTx interface {
	// Approval returns the locked approval row.
	Approval() *Approval
	// Steps returns all steps of the approval ordered by step_order.
	Steps() []*ApprovalStep
	// SaveStep persists step mutations within the transaction.
	SaveStep(ctx context.Context, step *ApprovalStep) error
	// SaveApproval persists approval mutations within the transaction.
	SaveApproval(ctx context.Context, approval *Approval) error
}

// ApprovalRepository manages approvals and their steps. An approval and its
// steps are always created together in a single transaction, and all
// post-creation mutations go through Mutate.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create inserts an approval and its materialized steps atomically and points
// current_step_id at the lowest-order pending step. A zero-step approval is
// valid (degenerate) and keeps a null current step.
func (r *ApprovalRepository) Create(ctx context.Context, approval *Approval, steps []*ApprovalStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approvalQuery := `
			INSERT INTO approvals
			    (workflow_type, workflow_id, route_id, title, description,
			     status, priority, requested_by, requires_all_steps,
			     completed_at, completed_by, resolution_comment)
			VALUES ($1, $2, $3, $4, $5,
			        $6, $7, $8, $9,
			        $10, $11, $12)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, approvalQuery,
			approval.WorkflowType,
			approval.WorkflowID,
			approval.RouteID,
			approval.Title,
			approval.Description,
			approval.Status,
			approval.Priority,
			approval.RequestedBy,
			approval.RequiresAllSteps,
			approval.CompletedAt,
			approval.CompletedBy,
			approval.ResolutionComment,
		).Scan(&approval.ID, &approval.CreatedAt, &approval.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
		}

		stepQuery := `
			INSERT INTO approval_steps
			    (approval_id, step_order, step_type, is_required,
			     assigned_to_user_id, assigned_to_role, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`

		for _, step := range steps {
			step.ApprovalID = approval.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.ApprovalID,
				step.StepOrder,
				step.StepType,
				step.IsRequired,
				step.AssignedToUserID,
				step.AssignedToRole,
				step.Status,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
			}
		}

		if current := lowestPending(steps); current != nil {
			approval.CurrentStepID = &current.ID
			_, err := tx.Exec(ctx,
				`UPDATE approvals SET current_step_id = $2, updated_at = NOW() WHERE id = $1`,
				approval.ID, current.ID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to set current step")
			}
		}
		return nil
	})
}

// GetByID retrieves an approval by primary key.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*Approval, error) {
	approval, err := scanApproval(r.db.QueryRow(ctx, approvalSelect+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", id)
	}
	return approval, err
}

// GetStep retrieves a single step by primary key.
func (r *ApprovalRepository) GetStep(ctx context.Context, id string) (*ApprovalStep, error) {
	step, err := scanStep(r.db.QueryRow(ctx, stepSelect+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_step", id)
	}
	return step, err
}

// ListSteps returns all steps of an approval ordered by step_order.
func (r *ApprovalRepository) ListSteps(ctx context.Context, approvalID string) ([]*ApprovalStep, error) {
	rows, err := r.db.Query(ctx, stepSelect+` WHERE approval_id = $1 ORDER BY step_order ASC`, approvalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// ListPendingForUser returns pending approvals with at least one pending step
// the user can act on: directly assigned, already delegated to them, or
// assigned to one of the roles they hold.
func (r *ApprovalRepository) ListPendingForUser(ctx context.Context, userID string, roles []string) ([]*Approval, error) {
	query := approvalSelect + `
		WHERE status = 'pending'
		  AND EXISTS (
		      SELECT 1 FROM approval_steps s
		      WHERE s.approval_id = approvals.id
		        AND s.status = 'pending'
		        AND (s.assigned_to_user_id = $1
		             OR s.delegated_to_user_id = $1
		             OR s.assigned_to_role = ANY($2)))
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID, roles)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, approval)
	}
	return approvals, nil
}

// Mutate runs fn inside a transaction holding a FOR UPDATE lock on the
// approval row. Every approve/reject/reassign read-modify-write goes through
// here so completion checks and current-step advancement never observe a torn
// intermediate state.
func (r *ApprovalRepository) Mutate(ctx context.Context, approvalID string, fn func(tx ApprovalTx) error) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approval, err := scanApproval(tx.QueryRow(ctx, approvalSelect+` WHERE id = $1 FOR UPDATE`, approvalID))
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval", approvalID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval")
		}

		rows, err := tx.Query(ctx, stepSelect+` WHERE approval_id = $1 ORDER BY step_order ASC`, approvalID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
		}
		steps, err := scanStepRows(rows)
		rows.Close()
		if err != nil {
			return err
		}

		return fn(&approvalTx{tx: tx, approval: approval, steps: steps})
	})
}

// approvalTx is the pgx-backed ApprovalTx implementation.
type approvalTx struct {
	tx       pgx.Tx
	approval *Approval
	steps    []*ApprovalStep
}

func (t *approvalTx) Approval() *Approval {
	return t.approval
}

func (t *approvalTx) Steps() []*ApprovalStep {
	return t.steps
}

func (t *approvalTx) SaveStep(ctx context.Context, step *ApprovalStep) error {
	query := `
		UPDATE approval_steps
		SET status               = $2,
		    assigned_to_user_id  = $3,
		    approved_by          = $4,
		    approved_at          = $5,
		    comment              = $6,
		    is_delegated         = $7,
		    delegated_to_user_id = $8,
		    updated_at           = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		step.ID,
		step.Status,
		step.AssignedToUserID,
		step.ApprovedBy,
		step.ApprovedAt,
		step.Comment,
		step.IsDelegated,
		step.DelegatedToUserID,
	).Scan(&step.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", step.ID)
	}
	return err
}

func (t *approvalTx) SaveApproval(ctx context.Context, approval *Approval) error {
	query := `
		UPDATE approvals
		SET status             = $2,
		    current_step_id    = $3,
		    completed_at       = $4,
		    completed_by       = $5,
		    resolution_comment = $6,
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		approval.ID,
		approval.Status,
		approval.CurrentStepID,
		approval.CompletedAt,
		approval.CompletedBy,
		approval.ResolutionComment,
	).Scan(&approval.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval", approval.ID)
	}
	return err
}

// lowestPending returns the pending step with the smallest step_order, or nil.
func lowestPending(steps []*ApprovalStep) *ApprovalStep {
	var current *ApprovalStep
	for _, s := range steps {
		if s.Status != StepStatusPending {
			continue
		}
		if current == nil || s.StepOrder < current.StepOrder {
			current = s
		}
	}
	return current
}

// sortSteps orders steps by step_order in place.
func sortSteps(steps []*ApprovalStep) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const approvalSelect = `
	SELECT id, workflow_type, workflow_id, route_id, title, description,
	       status, priority, requested_by, requires_all_steps,
	       current_step_id, completed_at, completed_by, resolution_comment,
	       created_at, updated_at
	FROM approvals`

const stepSelect = `
	SELECT id, approval_id, step_order, step_type, is_required,
	       assigned_to_user_id, assigned_to_role, status,
	       approved_by, approved_at, comment,
	       is_delegated, delegated_to_user_id,
	       created_at, updated_at
	FROM approval_steps`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.WorkflowType,
		&a.WorkflowID,
		&a.RouteID,
		&a.Title,
		&a.Description,
		&a.Status,
		&a.Priority,
		&a.RequestedBy,
		&a.RequiresAllSteps,
		&a.CurrentStepID,
		&a.CompletedAt,
		&a.CompletedBy,
		&a.ResolutionComment,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanStep(row rowScanner) (*ApprovalStep, error) {
	s := &ApprovalStep{}
	err := row.Scan(
		&s.ID,
		&s.ApprovalID,
		&s.StepOrder,
		&s.StepType,
		&s.IsRequired,
		&s.AssignedToUserID,
		&s.AssignedToRole,
		&s.Status,
		&s.ApprovedBy,
		&s.ApprovedAt,
		&s.Comment,
		&s.IsDelegated,
		&s.DelegatedToUserID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanStepRows(rows pgx.Rows) ([]*ApprovalStep, error) {
	var steps []*ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	sortSteps(steps)
	return steps, nil
}
