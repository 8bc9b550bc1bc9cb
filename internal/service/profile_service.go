package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type profileStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentProfile, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
	List(ctx context.Context, filter models.ProfileFilter) ([]models.StudentProfile, int, error)
	Create(ctx context.Context, profile *models.StudentProfile) error
	ExistsByStudentNo(ctx context.Context, studentNo string) (bool, error)
}

type userCreator interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type pendingChecker interface {
	HasPending(ctx context.Context, subjectID string) (bool, error)
}

// ProfileView is a profile plus its review lock state, as shown on the
// student dashboard.
type ProfileView struct {
	Profile          *models.StudentProfile `json:"profile"`
	HasPendingReview bool                   `json:"has_pending_review"`
}

// ProfileService serves student profile reads and admin provisioning.
type ProfileService struct {
	profiles profileStore
	users    userCreator
	pending  pendingChecker
	audit    auditLogger
	logger   *zap.Logger
}

// NewProfileService constructs the service.
func NewProfileService(profiles profileStore, users userCreator, pending pendingChecker, audit auditLogger, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{
		profiles: profiles,
		users:    users,
		pending:  pending,
		audit:    audit,
		logger:   logger,
	}
}

// GetOwn returns the caller's profile with its pending-review flag.
func (s *ProfileService) GetOwn(ctx context.Context, userID string) (*ProfileView, error) {
	profile, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no profile found for user")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	return s.view(ctx, profile)
}

// Get returns a profile by its identifier (admin access).
func (s *ProfileService) Get(ctx context.Context, id string) (*ProfileView, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	return s.view(ctx, profile)
}

// List returns profiles matching the query with pagination metadata.
func (s *ProfileService) List(ctx context.Context, query dto.ProfileQuery) ([]models.StudentProfile, int, error) {
	filter := models.ProfileFilter{
		Search:    strings.TrimSpace(query.Search),
		City:      strings.TrimSpace(query.City),
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	profiles, total, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list profiles")
	}
	return profiles, total, nil
}

// Create provisions a student account plus its profile. The email and student
// number must both be unused.
func (s *ProfileService) Create(ctx context.Context, req dto.CreateProfileRequest, actorID string) (*models.StudentProfile, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	exists, err := s.profiles.ExistsByStudentNo(ctx, req.StudentNo)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number already assigned")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.RoleStudent,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	profile := &models.StudentProfile{
		UserID:        user.ID,
		StudentNo:     req.StudentNo,
		FullName:      req.FullName,
		Phone:         req.Phone,
		Address:       req.Address,
		City:          req.City,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
		NationalID:    req.NationalID,
		DateOfBirth:   req.DateOfBirth,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create profile")
	}

	if s.audit != nil {
		snapshot, _ := json.Marshal(profile)
		log := &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionProfileCreate,
			Resource:   "student_profile",
			ResourceID: &profile.ID,
			NewValues:  snapshot,
			IPAddress:  "system",
			UserAgent:  "profile-service",
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return profile, nil
}

func (s *ProfileService) view(ctx context.Context, profile *models.StudentProfile) (*ProfileView, error) {
	hasPending := false
	if s.pending != nil {
		pending, err := s.pending.HasPending(ctx, profile.ID)
		if err != nil {
			return nil, err
		}
		hasPending = pending
	}
	return &ProfileView{Profile: profile, HasPendingReview: hasPending}, nil
}
