package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// ErrPendingExists signals the partial unique index on
// (subject_id) WHERE status = 'PENDING' rejected an insert. It closes the
// check-then-act window between FindPendingBySubject and Create.
var ErrPendingExists = errors.New("pending change request already exists for subject")

// editableColumns whitelists the student_profiles columns a change request may
// touch. Derived from the editable field registry so the two never drift.
var editableColumns = func() map[string]struct{} {
	cols := make(map[string]struct{}, len(models.EditableProfileFields))
	for _, key := range models.EditableProfileFields {
		cols[key] = struct{}{}
	}
	return cols
}()

// ChangeRequestRepository persists the profile change workflow.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create inserts a new PENDING request row.
func (r *ChangeRequestRepository) Create(ctx context.Context, request *models.ProfileChangeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.ChangeRequestStatusPending
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO profile_change_requests
	(id, subject_id, changes, status, requested_by, requested_at, reviewed_by, reviewed_at, reviewer_note)
	VALUES (:id, :subject_id, :changes, :status, :requested_by, :requested_at, :reviewed_by, :reviewed_at, :reviewer_note)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPendingExists
		}
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

// GetByID fetches a change request by identifier.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ProfileChangeRequest, error) {
	const query = `SELECT id, subject_id, changes, status, requested_by, requested_at, reviewed_by, reviewed_at, reviewer_note
	FROM profile_change_requests WHERE id = $1`
	var request models.ProfileChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindPendingBySubject returns the pending request for a subject, if any.
func (r *ChangeRequestRepository) FindPendingBySubject(ctx context.Context, subjectID string) (*models.ProfileChangeRequest, error) {
	const query = `SELECT id, subject_id, changes, status, requested_by, requested_at, reviewed_by, reviewed_at, reviewer_note
	FROM profile_change_requests WHERE subject_id = $1 AND status = $2 LIMIT 1`
	var request models.ProfileChangeRequest
	if err := r.db.GetContext(ctx, &request, query, subjectID, models.ChangeRequestStatusPending); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns change requests matching the filter (latest first).
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ProfileChangeRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT id, subject_id, changes, status, requested_by, requested_at, reviewed_by, reviewed_at, reviewer_note
	FROM profile_change_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY requested_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ProfileChangeRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// ReviewParams groups the columns written at review time.
type ReviewParams struct {
	ID           string
	Status       models.ChangeRequestStatus
	ReviewedBy   string
	ReviewedAt   time.Time
	ReviewerNote *string
}

// ReviewApprove applies the approved field values to the canonical profile and
// flips the request status in one transaction. The status update is
// conditional on the row still being PENDING; zero rows affected aborts the
// transaction and returns sql.ErrNoRows, leaving the profile untouched.
func (r *ChangeRequestRepository) ReviewApprove(ctx context.Context, params ReviewParams, subjectID string, fields map[string]string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := applyProfileFields(ctx, tx, subjectID, fields, params.ReviewedAt); err != nil {
		return err
	}
	if err := updateRequestStatus(ctx, tx, params); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review transaction: %w", err)
	}
	return nil
}

// ReviewReject flips the request status without touching the profile. Same
// conditional-update semantics as ReviewApprove.
func (r *ChangeRequestRepository) ReviewReject(ctx context.Context, params ReviewParams) error {
	return updateRequestStatus(ctx, r.db, params)
}

func applyProfileFields(ctx context.Context, tx sqlx.ExtContext, subjectID string, fields map[string]string, updatedAt time.Time) error {
	// Reject unknown keys up front so a stored diff can never name an
	// arbitrary column, then walk the registry for a deterministic SET order.
	for key := range fields {
		if _, allowed := editableColumns[key]; !allowed {
			return fmt.Errorf("field %q is not an editable profile column", key)
		}
	}
	setParts := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	for _, key := range models.EditableProfileFields {
		value, ok := fields[key]
		if !ok {
			continue
		}
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", key, len(args)))
	}
	if len(setParts) == 0 {
		return fmt.Errorf("no editable fields to apply")
	}
	args = append(args, updatedAt)
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, subjectID)
	query := fmt.Sprintf("UPDATE student_profiles SET %s WHERE id = $%d", strings.Join(setParts, ", "), len(args))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("apply profile fields: %w", err)
	}
	return nil
}

func updateRequestStatus(ctx context.Context, ext sqlx.ExtContext, params ReviewParams) error {
	const query = `UPDATE profile_change_requests
	SET status = $2, reviewed_by = $3, reviewed_at = $4, reviewer_note = $5
	WHERE id = $1 AND status = $6`
	result, err := ext.ExecContext(ctx, query, params.ID, params.Status, params.ReviewedBy, params.ReviewedAt, params.ReviewerNote, models.ChangeRequestStatusPending)
	if err != nil {
		return fmt.Errorf("update change request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check change request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
