package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

const profileColumns = `id, user_id, student_no, full_name, phone, address, city, guardian_name, guardian_phone, national_id, date_of_birth, created_at, updated_at`

// ProfileRepository manages persistence for student profiles.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs a ProfileRepository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindByID fetches a profile by its identifier.
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.StudentProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_profiles WHERE id = $1`, profileColumns)
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByUserID fetches the profile owned by the given portal user.
func (r *ProfileRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_profiles WHERE user_id = $1`, profileColumns)
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		return nil, err
	}
	return &profile, nil
}

// List returns profiles matching the filter with a total count.
func (r *ProfileRepository) List(ctx context.Context, filter models.ProfileFilter) ([]models.StudentProfile, int, error) {
	base := "FROM student_profiles WHERE 1=1"
	args := make([]interface{}, 0, 3)

	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		base += fmt.Sprintf(" AND (LOWER(full_name) LIKE $%d OR LOWER(student_no) LIKE $%d)", len(args), len(args))
	}
	if filter.City != "" {
		args = append(args, filter.City)
		base += fmt.Sprintf(" AND city = $%d", len(args))
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"full_name":  true,
		"student_no": true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", profileColumns, base, sortBy, order, size, offset)
	var profiles []models.StudentProfile
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list profiles: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count profiles: %w", err)
	}
	return profiles, total, nil
}

// Create inserts a new student profile.
func (r *ProfileRepository) Create(ctx context.Context, profile *models.StudentProfile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	const query = `INSERT INTO student_profiles
	(id, user_id, student_no, full_name, phone, address, city, guardian_name, guardian_phone, national_id, date_of_birth, created_at, updated_at)
	VALUES (:id, :user_id, :student_no, :full_name, :phone, :address, :city, :guardian_name, :guardian_phone, :national_id, :date_of_birth, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// ExistsByStudentNo checks whether a student number is already assigned.
func (r *ProfileRepository) ExistsByStudentNo(ctx context.Context, studentNo string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM student_profiles WHERE student_no = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentNo); err != nil {
		return false, fmt.Errorf("check student number: %w", err)
	}
	return exists, nil
}
