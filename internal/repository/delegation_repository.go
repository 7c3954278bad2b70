package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crestline/be-tax-approvals/internal/database"
	"github.com/crestline/be-tax-approvals/internal/errors"
)

// DelegationRepository manages substitute-approver grants.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// Create inserts a new delegation grant.
func (r *DelegationRepository) Create(ctx context.Context, d *Delegation) error {
	query := `
		INSERT INTO approval_delegations
		    (from_user_id, to_user_id, workflow_type,
		     start_date, end_date, is_active, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		d.FromUserID,
		d.ToUserID,
		d.WorkflowType,
		d.StartDate,
		d.EndDate,
		d.IsActive,
		d.Reason,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

// FindActive returns a delegation that authorizes toUserID to act for
// fromUserID on workflowType at the given instant, or nil when none exists.
// A NULL workflow_type grant covers all workflow types; a NULL end_date is
// open-ended.
func (r *DelegationRepository) FindActive(ctx context.Context, toUserID, fromUserID, workflowType string, now time.Time) (*Delegation, error) {
	query := delegationSelect + `
		WHERE to_user_id = $1
		  AND from_user_id = $2
		  AND is_active
		  AND (workflow_type IS NULL OR workflow_type = $3)
		  AND start_date <= $4
		  AND (end_date IS NULL OR end_date >= $4)
		ORDER BY created_at DESC
		LIMIT 1
	`

	d, err := r.scanDelegation(r.db.QueryRow(ctx, query, toUserID, fromUserID, workflowType, now))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListActiveTo returns every delegation currently granting toUserID the right
// to act for someone else. Used to expand a user's work queue with their
// delegators' steps.
func (r *DelegationRepository) ListActiveTo(ctx context.Context, toUserID string, now time.Time) ([]*Delegation, error) {
	query := delegationSelect + `
		WHERE to_user_id = $1
		  AND is_active
		  AND start_date <= $2
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, toUserID, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active delegations")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListForUser returns delegations the user granted or received.
func (r *DelegationRepository) ListForUser(ctx context.Context, userID string) ([]*Delegation, error) {
	query := delegationSelect + `
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list delegations")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Deactivate revokes a delegation. Only the granting user may revoke.
func (r *DelegationRepository) Deactivate(ctx context.Context, id, fromUserID string) error {
	query := `
		UPDATE approval_delegations
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND from_user_id = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, fromUserID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("delegation", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const delegationSelect = `
	SELECT id, from_user_id, to_user_id, workflow_type,
	       start_date, end_date, is_active, reason,
	       created_at, updated_at
	FROM approval_delegations`

func (r *DelegationRepository) scanDelegation(row rowScanner) (*Delegation, error) {
	d := &Delegation{}
	err := row.Scan(
		&d.ID,
		&d.FromUserID,
		&d.ToUserID,
		&d.WorkflowType,
		&d.StartDate,
		&d.EndDate,
		&d.IsActive,
		&d.Reason,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DelegationRepository) scanRows(rows pgx.Rows) ([]*Delegation, error) {
	var delegations []*Delegation
	for rows.Next() {
		d, err := r.scanDelegation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan delegation")
		}
		delegations = append(delegations, d)
	}
	return delegations, nil
}
