package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

const ticketColumns = `id, student_id, category, subject, body, status, assigned_to, reply_note, created_at, updated_at`

// TicketRepository persists support tickets.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository constructs the repository.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create inserts a new OPEN ticket.
func (r *TicketRepository) Create(ctx context.Context, ticket *models.SupportTicket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketStatusOpen
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	const query = `INSERT INTO support_tickets
	(id, student_id, category, subject, body, status, assigned_to, reply_note, created_at, updated_at)
	VALUES (:id, :student_id, :category, :subject, :body, :status, :assigned_to, :reply_note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ticket); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// GetByID fetches a ticket.
func (r *TicketRepository) GetByID(ctx context.Context, id string) (*models.SupportTicket, error) {
	query := fmt.Sprintf("SELECT %s FROM support_tickets WHERE id = $1", ticketColumns)
	var ticket models.SupportTicket
	if err := r.db.GetContext(ctx, &ticket, query, id); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// List returns tickets matching the filter (latest first).
func (r *TicketRepository) List(ctx context.Context, filter models.TicketFilter) ([]models.SupportTicket, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString("SELECT " + ticketColumns + " FROM support_tickets")

	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var tickets []models.SupportTicket
	if err := r.db.SelectContext(ctx, &tickets, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// Transition moves a ticket from an expected status to the next one,
// optionally updating assignment and reply note. Fails with sql.ErrNoRows if
// the stored status no longer matches, surfacing concurrent staff action.
func (r *TicketRepository) Transition(ctx context.Context, id string, from, to models.TicketStatus, assignedTo, replyNote *string) error {
	const query = `UPDATE support_tickets
	SET status = $3, assigned_to = COALESCE($4, assigned_to), reply_note = COALESCE($5, reply_note), updated_at = $6
	WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, assignedTo, replyNote, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition ticket: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check ticket transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
