package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/crestline/be-tax-approvals/internal/database"
	"github.com/crestline/be-tax-approvals/internal/errors"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (approval_id, step_id, action, performed_by, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.ApprovalID,
		entry.StepID,
		entry.Action,
		entry.PerformedBy,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// ListByApproval returns the full audit trail for an approval oldest-first.
func (r *AuditRepository) ListByApproval(ctx context.Context, approvalID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, approval_id, step_id, action, performed_by, performed_at, metadata
		FROM approval_audit_log
		WHERE approval_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, approvalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *AuditRepository) scanEntry(rows pgx.Rows) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := rows.Scan(
		&entry.ID,
		&entry.ApprovalID,
		&entry.StepID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}
