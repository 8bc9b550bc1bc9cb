package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// FeeRepository persists the programme catalog and fee quotes.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository constructs the repository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// ListProgrammes returns the active programme catalog ordered by code.
func (r *FeeRepository) ListProgrammes(ctx context.Context) ([]models.Programme, error) {
	const query = `SELECT id, code, name, level, terms, tuition_per_term, registration_fee, active, created_at, updated_at
	FROM programmes WHERE active = TRUE ORDER BY code ASC`
	var programmes []models.Programme
	if err := r.db.SelectContext(ctx, &programmes, query); err != nil {
		return nil, fmt.Errorf("list programmes: %w", err)
	}
	return programmes, nil
}

// GetProgramme fetches one programme by identifier.
func (r *FeeRepository) GetProgramme(ctx context.Context, id string) (*models.Programme, error) {
	const query = `SELECT id, code, name, level, terms, tuition_per_term, registration_fee, active, created_at, updated_at
	FROM programmes WHERE id = $1`
	var programme models.Programme
	if err := r.db.GetContext(ctx, &programme, query, id); err != nil {
		return nil, err
	}
	return &programme, nil
}

// CreateQuote inserts a PENDING quote row.
func (r *FeeRepository) CreateQuote(ctx context.Context, quote *models.FeeQuote) error {
	if quote.ID == "" {
		quote.ID = uuid.NewString()
	}
	if quote.Status == "" {
		quote.Status = models.FeeQuoteStatusPending
	}
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO fee_quotes
	(id, programme_id, requested_by, scholarship_percent, tuition_total, registration_fee, discount, total_payable, status, file_path, failure_reason, created_at, completed_at)
	VALUES (:id, :programme_id, :requested_by, :scholarship_percent, :tuition_total, :registration_fee, :discount, :total_payable, :status, :file_path, :failure_reason, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, quote); err != nil {
		return fmt.Errorf("create fee quote: %w", err)
	}
	return nil
}

// GetQuote fetches one quote by identifier.
func (r *FeeRepository) GetQuote(ctx context.Context, id string) (*models.FeeQuote, error) {
	const query = `SELECT id, programme_id, requested_by, scholarship_percent, tuition_total, registration_fee, discount, total_payable, status, file_path, failure_reason, created_at, completed_at
	FROM fee_quotes WHERE id = $1`
	var quote models.FeeQuote
	if err := r.db.GetContext(ctx, &quote, query, id); err != nil {
		return nil, err
	}
	return &quote, nil
}

// ListQuotesByRequester returns a user's quotes, newest first.
func (r *FeeRepository) ListQuotesByRequester(ctx context.Context, userID string, limit int) ([]models.FeeQuote, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, programme_id, requested_by, scholarship_percent, tuition_total, registration_fee, discount, total_payable, status, file_path, failure_reason, created_at, completed_at
	FROM fee_quotes WHERE requested_by = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var quotes []models.FeeQuote
	if err := r.db.SelectContext(ctx, &quotes, query, userID); err != nil {
		return nil, fmt.Errorf("list fee quotes: %w", err)
	}
	return quotes, nil
}

// MarkQuoteReady records a rendered document path. Only PENDING quotes move
// to READY; anything else returns sql.ErrNoRows.
func (r *FeeRepository) MarkQuoteReady(ctx context.Context, id, filePath string) error {
	const query = `UPDATE fee_quotes SET status = $2, file_path = $3, completed_at = $4
	WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, models.FeeQuoteStatusReady, filePath, time.Now().UTC(), models.FeeQuoteStatusPending)
	if err != nil {
		return fmt.Errorf("mark quote ready: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check quote update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkQuoteFailed records a terminal rendering failure.
func (r *FeeRepository) MarkQuoteFailed(ctx context.Context, id, reason string) error {
	const query = `UPDATE fee_quotes SET status = $2, failure_reason = $3, completed_at = $4
	WHERE id = $1 AND status = $5`
	if _, err := r.db.ExecContext(ctx, query, id, models.FeeQuoteStatusFailed, reason, time.Now().UTC(), models.FeeQuoteStatusPending); err != nil {
		return fmt.Errorf("mark quote failed: %w", err)
	}
	return nil
}
